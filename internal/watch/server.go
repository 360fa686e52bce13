package watch

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

// Daemon mounts the watch HTTP surface over a Store and Engine.
type Daemon struct {
	store  *Store
	engine *Engine
}

func New(store *Store, engine *Engine) *Daemon {
	return &Daemon{store: store, engine: engine}
}

func (d *Daemon) Mount(r chi.Router) {
	r.Post("/switch/begin", d.handleBegin)
	r.Get("/switch/status/{id}", d.handleStatus)
	r.Post("/switch/commit/{id}", d.handleCommit)
	r.Post("/switch/rollback/{id}", d.handleRollback)
	r.Post("/watcher/add", d.handleAddWatcher)
	r.Get("/watcher/list", d.handleListWatchers)
	r.Delete("/watcher/{id}", d.handleRemoveWatcher)
}

type beginReq struct {
	Plan         string               `json:"plan"`
	TTLSecs      int                  `json:"ttl_secs"`
	HealthChecks []domain.HealthCheck `json:"health_checks"`
}

func (d *Daemon) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req beginReq
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrBadHealthCheck)
		return
	}
	if req.TTLSecs <= 0 {
		req.TTLSecs = 300
	}
	sess, err := d.store.BeginSwitch(req.Plan, req.TTLSecs, req.HealthChecks)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusCreated, sess)
}

type statusResp struct {
	domain.SwitchSession
	RemainingSecs int `json:"remaining_secs"`
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := d.store.GetSwitch(id)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	remaining := int(time.Duration(sess.TTLSecs)*time.Second - time.Since(sess.StartedAt).Round(time.Second))
	if remaining < 0 {
		remaining = 0
	}
	rpcsock.WriteJSON(w, http.StatusOK, statusResp{SwitchSession: sess, RemainingSecs: remaining / int(time.Second)})
}

func (d *Daemon) handleCommit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := d.engine.Commit(r.Context(), id)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, sess)
}

func (d *Daemon) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := d.engine.Rollback(r.Context(), id)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, sess)
}

func (d *Daemon) handleAddWatcher(w http.ResponseWriter, r *http.Request) {
	var wt domain.Watcher
	if err := rpcsock.DecodeJSON(w, r, &wt); err != nil {
		rpcsock.WriteError(w, domain.ErrBadHealthCheck)
		return
	}
	out, err := d.store.AddWatcher(wt)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusCreated, out)
}

func (d *Daemon) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	rpcsock.WriteJSON(w, http.StatusOK, d.store.ListWatchers())
}

func (d *Daemon) handleRemoveWatcher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := d.store.RemoveWatcher(id); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
