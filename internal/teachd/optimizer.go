package teachd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
)

// SuggestionKind enumerates the bounded actions the optimizer may
// propose from knowledge docs.
type SuggestionKind string

const (
	SuggestServiceRestart SuggestionKind = "ServiceRestart"
	SuggestSysctlTune     SuggestionKind = "SysctlTune"
)

// Suggestion is a bounded action derived from a knowledge doc;
// approved suggestions run through watch's probation flow so a
// bad tune is automatically rolled back.
type Suggestion struct {
	Kind         SuggestionKind `json:"kind"`
	Target       string         `json:"target"`
	KnowledgeID  int64          `json:"knowledge_id"`
	Description  string         `json:"description"`
}

// Suggest derives one bounded optimizer suggestion from every
// recurring failure / resource trend knowledge doc. Whether a doc has
// already been applied is not tracked, so such docs are suggested again.
func Suggest(docs []domain.KnowledgeDoc) []Suggestion {
	var out []Suggestion
	for _, d := range docs {
		switch d.Category {
		case string(domain.PatternRecurringFailure):
			out = append(out, Suggestion{
				Kind:        SuggestServiceRestart,
				KnowledgeID: d.ID,
				Description: d.Content,
			})
		case string(domain.PatternResourceTrend):
			out = append(out, Suggestion{
				Kind:        SuggestSysctlTune,
				KnowledgeID: d.ID,
				Description: d.Content,
			})
		}
	}
	return out
}

// WatchClient applies an approved suggestion via watch's unix-socket
// switch-begin/commit/rollback API, following the same
// dial-over-unix-socket idiom as internal/receipt.
type WatchClient struct {
	http *http.Client
}

func NewWatchClient(sockPath string) *WatchClient {
	return &WatchClient{
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", sockPath)
				},
			},
		},
	}
}

// Apply begins a switch for the suggestion's plan, bounded by ttl,
// with the given health checks; watch's own probation loop commits or
// rolls it back automatically.
func (c *WatchClient) Apply(ctx context.Context, s Suggestion, ttlSecs int, checks []domain.HealthCheck) (domain.SwitchSession, error) {
	body, err := json.Marshal(map[string]any{
		"plan":          fmt.Sprintf("teachd-optimizer:%s:%d", s.Kind, s.KnowledgeID),
		"ttl_secs":      ttlSecs,
		"health_checks": checks,
	})
	if err != nil {
		return domain.SwitchSession{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix/switch/begin", bytes.NewReader(body))
	if err != nil {
		return domain.SwitchSession{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.SwitchSession{}, err
	}
	defer resp.Body.Close()

	var sess domain.SwitchSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return domain.SwitchSession{}, err
	}
	return sess, nil
}
