package mcpd

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

// Daemon is the HTTP control surface in front of a Supervisor, plus
// the fsnotify watch that hot-reloads the declared server list.
type Daemon struct {
	supervisor *Supervisor
	configPath string
}

func NewDaemon(supervisor *Supervisor, configPath string) *Daemon {
	return &Daemon{supervisor: supervisor, configPath: configPath}
}

func (d *Daemon) Mount(r chi.Router) {
	r.Get("/health", d.handleHealth)
	r.Get("/servers", d.handleList)
	r.Post("/reload", d.handleReload)
	r.Post("/server/{name}/start", d.handleStart)
	r.Post("/server/{name}/stop", d.handleStop)
	r.Post("/server/{name}/restart", d.handleRestart)
	mountMetrics(r)
}

// Run starts the health-check loop and the config-file watcher, and
// performs the initial reconciliation. It blocks until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) {
	if desired, err := LoadConfig(d.configPath); err != nil {
		log.Printf("[mcpd] initial config load failed: %v", err)
	} else if err := d.supervisor.Reconcile(ctx, desired); err != nil {
		log.Printf("[mcpd] initial reconcile failed: %v", err)
	}

	go d.supervisor.RunHealthLoop(ctx)
	go d.watchConfig(ctx)
	<-ctx.Done()
}

func (d *Daemon) watchConfig(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[mcpd] fsnotify init failed: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.configPath); err != nil {
		log.Printf("[mcpd] watch %s failed: %v", d.configPath, err)
		return
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() { d.reload(ctx) })
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[mcpd] fsnotify error: %v", err)
		}
	}
}

func (d *Daemon) reload(ctx context.Context) {
	desired, err := LoadConfig(d.configPath)
	if err != nil {
		log.Printf("[mcpd] hot-reload config load failed: %v", err)
		return
	}
	if err := d.supervisor.Reconcile(ctx, desired); err != nil {
		log.Printf("[mcpd] hot-reload reconcile failed: %v", err)
	}
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := d.supervisor.Statuses()
	running := 0
	for _, s := range statuses {
		if s.Running {
			running++
		}
	}
	rpcsock.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"servers_total":  len(statuses),
		"servers_running": running,
	})
}

func (d *Daemon) handleList(w http.ResponseWriter, r *http.Request) {
	rpcsock.WriteJSON(w, http.StatusOK, d.supervisor.Statuses())
}

func (d *Daemon) handleReload(w http.ResponseWriter, r *http.Request) {
	desired, err := LoadConfig(d.configPath)
	if err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	if err := d.supervisor.Reconcile(r.Context(), desired); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, d.supervisor.Statuses())
}

func (d *Daemon) handleStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := d.supervisor.Start(r.Context(), name); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	status, _ := d.supervisor.Status(name)
	rpcsock.WriteJSON(w, http.StatusOK, status)
}

func (d *Daemon) handleStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := d.supervisor.Stop(r.Context(), name); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	status, _ := d.supervisor.Status(name)
	rpcsock.WriteJSON(w, http.StatusOK, status)
}

func (d *Daemon) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := d.supervisor.Restart(r.Context(), name); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	status, _ := d.supervisor.Status(name)
	rpcsock.WriteJSON(w, http.StatusOK, status)
}
