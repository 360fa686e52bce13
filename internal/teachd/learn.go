package teachd

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
)

const (
	learnPeriod         = 5 * time.Minute
	learnWindow         = 60 * time.Minute
	knowledgeConfidence = 0.7
)

// Learner runs the four LEARN detectors over recent observations on a
// fixed cadence, generating a Knowledge doc for any pattern whose
// confidence clears the threshold.
type Learner struct {
	store *Store
}

func NewLearner(store *Store) *Learner {
	return &Learner{store: store}
}

func (l *Learner) Run(ctx context.Context) {
	ticker := time.NewTicker(learnPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Learner) tick(ctx context.Context) {
	obs, err := l.store.RecentObservations(learnWindow)
	if err != nil {
		log.Printf("[teachd] fetch observations failed: %v", err)
		return
	}
	if len(obs) == 0 {
		return
	}

	detectors := []func([]domain.Observation) []domain.Pattern{
		detectRecurringFailure,
		detectResourceTrend,
		detectAnomaly,
		detectCorrelation,
	}
	for _, detect := range detectors {
		for _, p := range detect(obs) {
			id, err := l.store.InsertPattern(p)
			if err != nil {
				log.Printf("[teachd] insert pattern failed: %v", err)
				continue
			}
			if p.Confidence > knowledgeConfidence {
				l.generateKnowledge(id, p)
			}
		}
	}
}

func (l *Learner) generateKnowledge(patternID int64, p domain.Pattern) {
	doc := domain.KnowledgeDoc{
		Title:     fmt.Sprintf("%s detected (confidence %.2f)", p.Kind, p.Confidence),
		Category:  string(p.Kind),
		Content:   describePattern(p),
		Tags:      []string{string(p.Kind)},
		Origin:    domain.OriginAuto,
		PatternID: patternID,
	}
	if _, err := l.store.InsertKnowledgeDoc(doc); err != nil {
		log.Printf("[teachd] insert knowledge doc failed: %v", err)
	}
}

func describePattern(p domain.Pattern) string {
	switch p.Kind {
	case domain.PatternRecurringFailure:
		return fmt.Sprintf("The same service failure signature recurred %d times in the observation window.", len(p.Evidence))
	case domain.PatternResourceTrend:
		return "Memory or CPU usage has grown monotonically over roughly the last hour."
	case domain.PatternAnomaly:
		return "A sampled value deviated more than two standard deviations from its rolling mean."
	case domain.PatternCorrelation:
		return "Two distinct event kinds occurred within 60 seconds of each other."
	default:
		return "Pattern detected."
	}
}

// detectRecurringFailure flags a service whose failure signature
// (unit name + non-active state) appears at least 3 times.
func detectRecurringFailure(obs []domain.Observation) []domain.Pattern {
	type key struct{ unit, state string }
	counts := map[key][]int64{}

	for _, o := range obs {
		if o.Source != domain.SourceService {
			continue
		}
		unit, _ := o.Data["unit"].(string)
		state, _ := o.Data["state"].(string)
		if state == "" || state == "active" {
			continue
		}
		k := key{unit, state}
		counts[k] = append(counts[k], o.ID)
	}

	var out []domain.Pattern
	for _, ids := range counts {
		if len(ids) >= 3 {
			out = append(out, domain.Pattern{
				Kind:       domain.PatternRecurringFailure,
				Confidence: confidenceForCount(len(ids)),
				Evidence:   ids,
			})
		}
	}
	return out
}

func confidenceForCount(n int) float64 {
	c := 0.5 + float64(n)*0.1
	if c > 0.99 {
		c = 0.99
	}
	return c
}

// detectResourceTrend fits a simple linear regression over memory (or
// CPU) usage samples and flags a monotonic upward slope.
func detectResourceTrend(obs []domain.Observation) []domain.Pattern {
	var out []domain.Pattern
	for _, source := range []domain.ObservationSource{domain.SourceMemory, domain.SourceCPU} {
		xs, ys, ids := seriesFor(obs, source, "used_percent", "percent")
		if len(xs) < 5 {
			continue
		}
		slope := regressionSlope(xs, ys)
		if slope > 0 {
			out = append(out, domain.Pattern{
				Kind:       domain.PatternResourceTrend,
				Confidence: confidenceForSlope(slope),
				Evidence:   ids,
			})
		}
	}
	return out
}

func seriesFor(obs []domain.Observation, source domain.ObservationSource, fields ...string) (xs, ys []float64, ids []int64) {
	for _, o := range obs {
		if o.Source != source {
			continue
		}
		for _, f := range fields {
			if v, ok := toFloat(o.Data[f]); ok {
				xs = append(xs, float64(o.CollectedAt.Unix()))
				ys = append(ys, v)
				ids = append(ids, o.ID)
				break
			}
		}
	}
	return
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// regressionSlope returns the least-squares slope of ys against xs.
func regressionSlope(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func confidenceForSlope(slope float64) float64 {
	c := 0.5 + slope*10
	if c > 0.95 {
		c = 0.95
	}
	if c < 0 {
		c = 0
	}
	return c
}

// detectAnomaly flags samples further than 2 standard deviations from
// the rolling mean of their source.
func detectAnomaly(obs []domain.Observation) []domain.Pattern {
	var out []domain.Pattern
	for _, source := range []domain.ObservationSource{domain.SourceMemory, domain.SourceCPU} {
		_, ys, ids := seriesFor(obs, source, "used_percent", "percent")
		if len(ys) < 5 {
			continue
		}
		mean, stddev := meanStddev(ys)
		if stddev == 0 {
			continue
		}
		for i, y := range ys {
			z := math.Abs(y-mean) / stddev
			if z > 2 {
				out = append(out, domain.Pattern{
					Kind:       domain.PatternAnomaly,
					Confidence: confidenceForZ(z),
					Evidence:   []int64{ids[i]},
				})
			}
		}
	}
	return out
}

func meanStddev(ys []float64) (mean, stddev float64) {
	n := float64(len(ys))
	for _, y := range ys {
		mean += y
	}
	mean /= n

	var variance float64
	for _, y := range ys {
		variance += (y - mean) * (y - mean)
	}
	variance /= n
	return mean, math.Sqrt(variance)
}

func confidenceForZ(z float64) float64 {
	c := 0.5 + (z-2)*0.15
	if c > 0.97 {
		c = 0.97
	}
	return c
}

// detectCorrelation flags pairs of differently-sourced observations
// that occurred within 60 seconds of each other.
func detectCorrelation(obs []domain.Observation) []domain.Pattern {
	var out []domain.Pattern
	for i := 0; i < len(obs); i++ {
		for j := i + 1; j < len(obs); j++ {
			if obs[i].Source == obs[j].Source {
				continue
			}
			delta := obs[j].CollectedAt.Sub(obs[i].CollectedAt)
			if delta < 0 {
				delta = -delta
			}
			if delta <= 60*time.Second {
				out = append(out, domain.Pattern{
					Kind:       domain.PatternCorrelation,
					Confidence: 0.6,
					Evidence:   []int64{obs[i].ID, obs[j].ID},
				})
			}
		}
	}
	return out
}
