package agentd

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

// Daemon wires the ledger store to its HTTP surface, mirroring the
// teacher's Daemon-struct wiring pattern of one object owning its
// store and exposing a Mount method.
type Daemon struct {
	store      *Store
	backupDir  string
	retainDays int
	metrics    *Metrics
	stream     *streamHub
}

// New builds the agentd daemon over an already-open store.
func New(store *Store, backupDir string, retainDays int) *Daemon {
	return &Daemon{
		store:      store,
		backupDir:  backupDir,
		retainDays: retainDays,
		metrics:    newMetrics(),
		stream:     newStreamHub(),
	}
}

// Mount installs every agentd route onto r.
func (d *Daemon) Mount(r chi.Router) {
	r.Get("/health", d.handleHealth)
	r.Post("/system/query", d.handleSystemQuery)
	r.Get("/system/discover", d.handleDiscover)
	r.Post("/events/log", d.handleEventLog)
	r.Get("/events/log", d.handleEventList)
	r.Get("/events/log/stream", d.handleEventStream)
	r.Post("/memory/ingest", d.handleMemoryIngest)
	r.Post("/memory/store", d.handleMemoryIngest)
	r.Post("/memory/recall", d.handleMemoryRecall)
	r.Get("/memory/health", d.handleMemoryHealth)
	r.Get("/agent/card", d.handleAgentCard)
	r.Post("/incidents/open", d.handleIncidentOpen)
	r.Post("/incidents/{id}/step", d.handleIncidentStep)
	r.Post("/incidents/{id}/close", d.handleIncidentClose)
	r.Get("/incidents/{id}", d.handleIncidentGet)
	r.Post("/backup/create", d.handleBackupCreate)
	r.Get("/backup/list", d.handleBackupList)
	r.Post("/receipts", d.handleReceipt)
	mountMetrics(r)
}

type logEventReq struct {
	Type    string `json:"type"`
	Actor   string `json:"actor"`
	Payload string `json:"payload"`
}

func (d *Daemon) handleEventLog(w http.ResponseWriter, r *http.Request) {
	var req logEventReq
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	ev, err := d.store.Append(req.Type, req.Actor, req.Payload)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	d.metrics.eventsAppended.Inc()
	d.stream.broadcast(ev)
	rpcsock.WriteJSON(w, http.StatusCreated, ev)
}

func (d *Daemon) handleEventList(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	events, err := d.store.List(after, limit)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, events)
}

type memoryIngestReq struct {
	Type     string   `json:"type"`
	Actor    string   `json:"actor"`
	Payload  string   `json:"payload"`
	Summary  string   `json:"summary"`
	Detail   string   `json:"detail"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

func (d *Daemon) handleMemoryIngest(w http.ResponseWriter, r *http.Request) {
	var req memoryIngestReq
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	ev, err := d.store.AppendWithMemory(req.Type, req.Actor, req.Payload, domain.MemoryRecord{
		Summary: req.Summary, Detail: req.Detail, Category: req.Category, Tags: req.Tags,
	})
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	d.metrics.memoryIngested.Inc()
	d.stream.broadcast(ev)
	rpcsock.WriteJSON(w, http.StatusCreated, ev)
}

type memoryRecallReq struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (d *Daemon) handleMemoryRecall(w http.ResponseWriter, r *http.Request) {
	var req memoryRecallReq
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	results, err := d.store.Recall(req.Query, req.Limit)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	d.metrics.recallQueries.Inc()
	rpcsock.WriteJSON(w, http.StatusOK, results)
}

func (d *Daemon) handleMemoryHealth(w http.ResponseWriter, r *http.Request) {
	rpcsock.WriteJSON(w, http.StatusOK, map[string]any{
		"fts_enabled": d.store.ftsEnabled,
	})
}

func (d *Daemon) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	brokenAt, err := d.store.VerifyChain()
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	if brokenAt != -1 {
		d.metrics.ledgerVerifyErr.Inc()
	}
	rpcsock.WriteJSON(w, http.StatusOK, map[string]any{
		"ledger_sound": brokenAt == -1,
		"broken_at":    brokenAt,
	})
}

// handleEventStream upgrades to a websocket connection and pushes
// every newly appended event as it is written, for agentctl's watch
// subcommand.
func (d *Daemon) handleEventStream(w http.ResponseWriter, r *http.Request) {
	d.stream.serve(w, r)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	rpcsock.WriteJSON(w, http.StatusOK, Snapshot(r.Context()))
}

func (d *Daemon) handleSystemQuery(w http.ResponseWriter, r *http.Request) {
	var req SystemQuery
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	result, err := RunSystemQuery(r.Context(), req)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, result)
}

func (d *Daemon) handleDiscover(w http.ResponseWriter, r *http.Request) {
	report, err := Discover(r.Context())
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, report)
}

type incidentOpenReq struct {
	Title string `json:"title"`
}

func (d *Daemon) handleIncidentOpen(w http.ResponseWriter, r *http.Request) {
	var req incidentOpenReq
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	inc, err := d.store.OpenIncident(req.Title)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusCreated, inc)
}

type incidentStepReq struct {
	Note  string `json:"note"`
	Actor string `json:"actor"`
}

func (d *Daemon) handleIncidentStep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req incidentStepReq
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	step, err := d.store.AddIncidentStep(id, req.Note, req.Actor)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusCreated, step)
}

func (d *Daemon) handleIncidentClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := d.store.CloseIncident(id); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (d *Daemon) handleIncidentGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inc, err := d.store.GetIncident(id)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, inc)
}

func (d *Daemon) handleBackupCreate(w http.ResponseWriter, r *http.Request) {
	info, err := d.store.CreateBackup(d.backupDir, d.retainDays)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	d.metrics.backupsCreated.Inc()
	rpcsock.WriteJSON(w, http.StatusCreated, info)
}

func (d *Daemon) handleBackupList(w http.ResponseWriter, r *http.Request) {
	list, err := ListBackups(d.backupDir)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, list)
}

func (d *Daemon) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req logEventReq
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	ev, err := d.store.Append(req.Type, req.Actor, req.Payload)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusCreated, ev)
}

// VerifyLedger is exported for agentctl's verify-ledger command.
func VerifyLedger(ctx context.Context, dbDir string) (brokenAt int64, err error) {
	store, err := Open(dbDir, false)
	if err != nil {
		return -1, err
	}
	defer store.Close()
	return store.VerifyChain()
}
