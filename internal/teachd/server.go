package teachd

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

const (
	observationRetention = 7 * 24 * time.Hour
	pruneInterval        = 6 * time.Hour
)

// Daemon wires the Store with the OBSERVE/LEARN background loops and
// exposes the TEACH retrieval and optimizer-suggestion HTTP surface.
type Daemon struct {
	store    *Store
	observer *Observer
	learner  *Learner
}

func New(store *Store, watchedUnits []string) *Daemon {
	return &Daemon{
		store:    store,
		observer: NewObserver(store, watchedUnits),
		learner:  NewLearner(store),
	}
}

// Run starts the OBSERVE, LEARN, and prune background loops. It blocks
// until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	go d.observer.Run(ctx)
	go d.learner.Run(ctx)
	go d.pruneLoop(ctx)
	<-ctx.Done()
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.store.PruneObservations(observationRetention); err != nil {
				log.Printf("[teachd] prune observations failed: %v", err)
			} else if n > 0 {
				log.Printf("[teachd] pruned %d stale observations", n)
			}
		}
	}
}

func (d *Daemon) Mount(r chi.Router) {
	r.Get("/observations", d.handleListObservations)
	r.Get("/patterns", d.handleListPatterns)
	r.Get("/knowledge", d.handleListKnowledge)
	r.Get("/knowledge/{id}", d.handleGetKnowledge)
	r.Post("/teach", d.handleTeach)
	r.Get("/optimizer/suggestions", d.handleSuggestions)
	r.Post("/optimizer/apply", d.handleApplySuggestion)
}

func (d *Daemon) handleListObservations(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if h := r.URL.Query().Get("window_hours"); h != "" {
		if hrs, err := strconv.Atoi(h); err == nil && hrs > 0 {
			window = time.Duration(hrs) * time.Hour
		}
	}
	obs, err := d.store.RecentObservations(window)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, obs)
}

func (d *Daemon) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := d.store.ListPatterns()
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, patterns)
}

func (d *Daemon) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	docs, err := d.store.ListKnowledgeDocs()
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, docs)
}

func (d *Daemon) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	doc, err := d.store.GetKnowledgeDoc(id)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, doc)
}

func (d *Daemon) handleTeach(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Context string `json:"context"`
		Budget  int    `json:"budget_chars"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	docs, err := d.store.ListKnowledgeDocs()
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, Retrieve(docs, req.Context, req.Budget))
}

func (d *Daemon) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	docs, err := d.store.ListKnowledgeDocs()
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, Suggest(docs))
}

func (d *Daemon) handleApplySuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Suggestion Suggestion           `json:"suggestion"`
		TTLSecs    int                  `json:"ttl_secs"`
		Checks     []domain.HealthCheck `json:"health_checks"`
		WatchSock  string               `json:"watch_socket"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	if req.WatchSock == "" {
		req.WatchSock = "/run/tutu/watch.sock"
	}
	client := NewWatchClient(req.WatchSock)
	sess, err := client.Apply(r.Context(), req.Suggestion, req.TTLSecs, req.Checks)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, sess)
}
