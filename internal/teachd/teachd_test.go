package teachd

import (
	"testing"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDetectRecurringFailure(t *testing.T) {
	now := time.Now().UTC()
	var obs []domain.Observation
	for i := 0; i < 3; i++ {
		obs = append(obs, domain.Observation{
			ID:          int64(i + 1),
			Source:      domain.SourceService,
			CollectedAt: now.Add(time.Duration(i) * time.Minute),
			Data:        map[string]any{"unit": "flaky.service", "state": "failed"},
		})
	}

	patterns := detectRecurringFailure(obs)
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	if patterns[0].Kind != domain.PatternRecurringFailure {
		t.Fatalf("unexpected kind: %s", patterns[0].Kind)
	}
	if patterns[0].Confidence <= 0.5 {
		t.Fatalf("expected confidence > 0.5, got %f", patterns[0].Confidence)
	}
}

func TestDetectRecurringFailureIgnoresActive(t *testing.T) {
	now := time.Now().UTC()
	obs := []domain.Observation{
		{ID: 1, Source: domain.SourceService, CollectedAt: now, Data: map[string]any{"unit": "ok.service", "state": "active"}},
		{ID: 2, Source: domain.SourceService, CollectedAt: now, Data: map[string]any{"unit": "ok.service", "state": "active"}},
		{ID: 3, Source: domain.SourceService, CollectedAt: now, Data: map[string]any{"unit": "ok.service", "state": "active"}},
	}
	if patterns := detectRecurringFailure(obs); len(patterns) != 0 {
		t.Fatalf("expected no patterns for active units, got %d", len(patterns))
	}
}

func TestDetectResourceTrend(t *testing.T) {
	now := time.Now().UTC()
	var obs []domain.Observation
	for i := 0; i < 10; i++ {
		obs = append(obs, domain.Observation{
			ID:          int64(i + 1),
			Source:      domain.SourceMemory,
			CollectedAt: now.Add(time.Duration(i) * time.Minute),
			Data:        map[string]any{"used_percent": float64(40 + i*2)},
		})
	}

	patterns := detectResourceTrend(obs)
	if len(patterns) != 1 {
		t.Fatalf("expected 1 upward trend pattern, got %d", len(patterns))
	}
	if patterns[0].Kind != domain.PatternResourceTrend {
		t.Fatalf("unexpected kind: %s", patterns[0].Kind)
	}
}

func TestDetectResourceTrendFlatIsNoPattern(t *testing.T) {
	now := time.Now().UTC()
	var obs []domain.Observation
	for i := 0; i < 10; i++ {
		obs = append(obs, domain.Observation{
			ID:          int64(i + 1),
			Source:      domain.SourceMemory,
			CollectedAt: now.Add(time.Duration(i) * time.Minute),
			Data:        map[string]any{"used_percent": 50.0},
		})
	}
	if patterns := detectResourceTrend(obs); len(patterns) != 0 {
		t.Fatalf("expected no trend pattern for flat series, got %d", len(patterns))
	}
}

func TestDetectAnomaly(t *testing.T) {
	now := time.Now().UTC()
	var obs []domain.Observation
	for i := 0; i < 9; i++ {
		obs = append(obs, domain.Observation{
			ID:          int64(i + 1),
			Source:      domain.SourceCPU,
			CollectedAt: now.Add(time.Duration(i) * time.Minute),
			Data:        map[string]any{"percent": 20.0},
		})
	}
	obs = append(obs, domain.Observation{
		ID:          10,
		Source:      domain.SourceCPU,
		CollectedAt: now.Add(10 * time.Minute),
		Data:        map[string]any{"percent": 99.0},
	})

	patterns := detectAnomaly(obs)
	if len(patterns) == 0 {
		t.Fatal("expected at least one anomaly pattern")
	}
	for _, p := range patterns {
		if p.Kind != domain.PatternAnomaly {
			t.Fatalf("unexpected kind: %s", p.Kind)
		}
	}
}

func TestDetectCorrelation(t *testing.T) {
	now := time.Now().UTC()
	obs := []domain.Observation{
		{ID: 1, Source: domain.SourceCPU, CollectedAt: now},
		{ID: 2, Source: domain.SourceService, CollectedAt: now.Add(10 * time.Second)},
		{ID: 3, Source: domain.SourceMemory, CollectedAt: now.Add(10 * time.Hour)},
	}
	patterns := detectCorrelation(obs)
	if len(patterns) != 1 {
		t.Fatalf("expected 1 correlation pattern, got %d", len(patterns))
	}
	if patterns[0].Kind != domain.PatternCorrelation {
		t.Fatalf("unexpected kind: %s", patterns[0].Kind)
	}
}

func TestRetrieveRanksByKeywordOverlap(t *testing.T) {
	docs := []domain.KnowledgeDoc{
		{ID: 1, Title: "disk pressure", Content: "disk usage climbing on /var partition", Tags: []string{"disk"}},
		{ID: 2, Title: "memory leak", Content: "memory usage climbing steadily for agentd process", Tags: []string{"memory"}},
		{ID: 3, Title: "unrelated", Content: "nothing to do with the query at all", Tags: []string{"other"}},
	}

	out := Retrieve(docs, "memory usage climbing", 0)
	if len(out) == 0 {
		t.Fatal("expected at least one matching doc")
	}
	if out[0].ID != 2 {
		t.Fatalf("expected best match first, got doc %d", out[0].ID)
	}
	for _, d := range out {
		if d.ID == 3 {
			t.Fatal("unrelated doc should not have matched")
		}
	}
}

func TestRetrieveBudgetExclusion(t *testing.T) {
	big := domain.KnowledgeDoc{ID: 1, Title: "memory", Content: string(make([]byte, 5000)) + " memory usage", Tags: []string{"memory"}}
	small := domain.KnowledgeDoc{ID: 2, Title: "memory", Content: "memory usage small", Tags: []string{"memory"}}

	out := Retrieve([]domain.KnowledgeDoc{big, small}, "memory usage", 1000)
	for _, d := range out {
		if d.ID == 1 {
			t.Fatal("oversized doc should have been skipped under the budget")
		}
	}
	found := false
	for _, d := range out {
		if d.ID == 2 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the small doc to still fit under budget")
	}
}

func TestSuggestMapsCategoriesToKinds(t *testing.T) {
	docs := []domain.KnowledgeDoc{
		{ID: 1, Category: string(domain.PatternRecurringFailure), Content: "service X keeps failing"},
		{ID: 2, Category: string(domain.PatternResourceTrend), Content: "memory keeps climbing"},
		{ID: 3, Category: string(domain.PatternAnomaly), Content: "one-off spike"},
	}

	suggestions := Suggest(docs)
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 actionable suggestions, got %d", len(suggestions))
	}

	var sawRestart, sawTune bool
	for _, s := range suggestions {
		switch s.Kind {
		case SuggestServiceRestart:
			sawRestart = true
		case SuggestSysctlTune:
			sawTune = true
		}
	}
	if !sawRestart || !sawTune {
		t.Fatalf("expected both suggestion kinds, got %+v", suggestions)
	}
}

func TestStoreObservationLifecycle(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.InsertObservation(domain.Observation{Source: domain.SourceCPU, Data: map[string]any{"percent": 12.5}}); err != nil {
		t.Fatalf("insert observation: %v", err)
	}

	recent, err := s.RecentObservations(time.Hour)
	if err != nil {
		t.Fatalf("recent observations: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(recent))
	}

	old := domain.Observation{Source: domain.SourceCPU, CollectedAt: time.Now().UTC().Add(-10 * 24 * time.Hour), Data: map[string]any{"percent": 1.0}}
	if _, err := s.InsertObservation(old); err != nil {
		t.Fatalf("insert old observation: %v", err)
	}

	n, err := s.PruneObservations(observationRetention)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}
}

func TestStoreKnowledgeDocRoundTrip(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertKnowledgeDoc(domain.KnowledgeDoc{
		Title:    "test doc",
		Category: "recurring_failure",
		Content:  "content body",
		Tags:     []string{"a", "b"},
		Origin:   domain.OriginAuto,
	})
	if err != nil {
		t.Fatalf("insert knowledge doc: %v", err)
	}

	got, err := s.GetKnowledgeDoc(id)
	if err != nil {
		t.Fatalf("get knowledge doc: %v", err)
	}
	if got.Title != "test doc" || len(got.Tags) != 2 {
		t.Fatalf("unexpected doc round trip: %+v", got)
	}

	if _, err := s.GetKnowledgeDoc(id + 999); err != domain.ErrKnowledgeNotFound {
		t.Fatalf("expected ErrKnowledgeNotFound, got %v", err)
	}
}

func TestLearnerTickGeneratesKnowledgeAboveThreshold(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if _, err := s.InsertObservation(domain.Observation{
			Source:      domain.SourceService,
			CollectedAt: now.Add(time.Duration(i) * time.Minute),
			Data:        map[string]any{"unit": "broken.service", "state": "failed"},
		}); err != nil {
			t.Fatalf("insert observation: %v", err)
		}
	}

	l := NewLearner(s)
	l.tick(nil)

	docs, err := s.ListKnowledgeDocs()
	if err != nil {
		t.Fatalf("list knowledge docs: %v", err)
	}
	if len(docs) == 0 {
		t.Fatal("expected at least one generated knowledge doc")
	}
}
