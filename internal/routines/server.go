package routines

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

type Daemon struct {
	store *Store
	sched *Scheduler
}

func New(store *Store, sched *Scheduler) *Daemon {
	return &Daemon{store: store, sched: sched}
}

func (d *Daemon) Mount(r chi.Router) {
	r.Post("/routines", d.handleCreate)
	r.Get("/routines", d.handleList)
	r.Get("/routines/{id}", d.handleGet)
	r.Delete("/routines/{id}", d.handleDelete)
	r.Post("/routines/event/{name}", d.handleFireEvent)
}

func (d *Daemon) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rt domain.Routine
	if err := rpcsock.DecodeJSON(w, r, &rt); err != nil {
		rpcsock.WriteError(w, domain.ErrBadCronExpr)
		return
	}
	if rt.Trigger.Kind == domain.TriggerCron {
		if _, err := ParseCronSchedule(rt.Trigger.CronExpr); err != nil {
			rpcsock.WriteError(w, err)
			return
		}
	}
	if err := ValidateAction(rt.Action); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	out, err := d.store.Add(rt)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusCreated, out)
}

func (d *Daemon) handleList(w http.ResponseWriter, r *http.Request) {
	rpcsock.WriteJSON(w, http.StatusOK, d.store.List())
}

func (d *Daemon) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rt, err := d.store.Get(id)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, rt)
}

func (d *Daemon) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := d.store.Remove(id); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (d *Daemon) handleFireEvent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d.sched.FireEvent(name)
	rpcsock.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
