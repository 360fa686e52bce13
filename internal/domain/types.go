package domain

import "time"

// ─── Ledger ─────────────────────────────────────────────────────────────────

// GenesisPrevHash is the prev_hash value of the first ledger row: 64
// ASCII zeros, per the hash law in spec §6.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event is one append-only row of the hash-chained ledger.
type Event struct {
	ID       int64     `json:"id"`
	TS       time.Time `json:"ts"`
	Type     string    `json:"type"`
	Actor    string    `json:"actor"`
	Payload  string    `json:"payload"`
	PrevHash string    `json:"prev_hash"`
	Hash     string    `json:"hash"`
}

// MemoryRecord is the tuple written by /memory/ingest and /memory/store.
type MemoryRecord struct {
	EventID int64    `json:"event_id"`
	Summary string   `json:"summary"`
	Detail  string   `json:"detail"`
	Category string  `json:"category"`
	Tags    []string `json:"tags"`
}

// IncidentStep is one append-only entry in an incident workspace.
type IncidentStep struct {
	Seq      int       `json:"seq"`
	Note     string    `json:"note"`
	Actor    string    `json:"actor"`
	AddedAt  time.Time `json:"added_at"`
}

// IncidentWorkspace groups an ordered list of steps describing an
// investigation or remediation in progress.
type IncidentWorkspace struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Steps     []IncidentStep `json:"steps"`
	Closed    bool           `json:"closed"`
	CreatedAt time.Time      `json:"created_at"`
	ClosedAt  time.Time      `json:"closed_at,omitempty"`
}

// ─── watch ──────────────────────────────────────────────────────────────────

// SwitchState is a switch session's position in the Probation state
// machine: Probation -> (Committed | RolledBack), both terminal, plus
// the terminal RolledBackFailed when the rollback itself fails.
type SwitchState string

const (
	SwitchProbation      SwitchState = "Probation"
	SwitchCommitted      SwitchState = "Committed"
	SwitchRolledBack      SwitchState = "RolledBack"
	SwitchRolledBackFailed SwitchState = "RolledBackFailed"
)

// IsTerminal reports whether the state has no further transitions.
func (s SwitchState) IsTerminal() bool {
	return s == SwitchCommitted || s == SwitchRolledBack || s == SwitchRolledBackFailed
}

// HealthCheckKind discriminates the four deterministic health check
// shapes watch and routines both understand.
type HealthCheckKind string

const (
	CheckSystemdUnit HealthCheckKind = "systemd_unit"
	CheckTCPPort     HealthCheckKind = "tcp_port"
	CheckHTTPGet     HealthCheckKind = "http_get"
	CheckCommand     HealthCheckKind = "command"
)

// HealthCheck is a tagged-union health check descriptor. Only the
// fields relevant to Kind are populated.
type HealthCheck struct {
	Kind HealthCheckKind `json:"kind"`

	// systemd_unit
	Unit string `json:"unit,omitempty"`

	// tcp_port
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// http_get
	URL            string `json:"url,omitempty"`
	ExpectStatus   int    `json:"expect_status,omitempty"`

	// command
	Argv []string `json:"argv,omitempty"`
}

// SwitchSession tracks one deploy-transaction probation window.
type SwitchSession struct {
	ID           string        `json:"id"`
	Plan         string        `json:"plan"`
	TTLSecs      int           `json:"ttl_secs"`
	StartedAt    time.Time     `json:"started_at"`
	HealthChecks []HealthCheck `json:"health_checks"`
	State        SwitchState   `json:"state"`
}

// EscalationStep names one rung of a watcher's escalation ladder.
type EscalationStep string

const (
	EscalationRestart  EscalationStep = "restart"
	EscalationRollback EscalationStep = "rollback"
	EscalationNotify   EscalationStep = "notify"
)

// Watcher runs a health check on an interval and climbs an escalation
// ladder on consecutive failures, resetting to the first rung on any
// single success.
type Watcher struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Check       HealthCheck      `json:"check"`
	IntervalSec int              `json:"interval_sec"`
	Ladder      []EscalationStep `json:"ladder"`
	Unit        string           `json:"unit,omitempty"` // target for restart/rollback steps
	RetryCount  int              `json:"retry_count"`
	Step        int              `json:"step"` // index into Ladder, 0 = first rung
}

// ─── routines ───────────────────────────────────────────────────────────────

// TriggerKind discriminates a routine's trigger.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
	TriggerEvent    TriggerKind = "event"
)

// Trigger is a tagged-union routine trigger.
type Trigger struct {
	Kind         TriggerKind `json:"kind"`
	CronExpr     string      `json:"cron_expr,omitempty"`
	IntervalSecs int         `json:"interval_secs,omitempty"`
	EventName    string      `json:"event_name,omitempty"`
}

// ActionKind discriminates a routine's action.
type ActionKind string

const (
	ActionHealthCheck       ActionKind = "HealthCheck"
	ActionServiceMonitor    ActionKind = "ServiceMonitor"
	ActionLogScan           ActionKind = "LogScan"
	ActionMemoryMaintenance ActionKind = "MemoryMaintenance"
	ActionCommand           ActionKind = "Command"
	ActionWebhook           ActionKind = "Webhook"
)

// Action is a tagged-union routine action.
type Action struct {
	Kind ActionKind `json:"kind"`

	// HealthCheck
	Check HealthCheck `json:"check,omitempty"`

	// ServiceMonitor
	Units []string `json:"units,omitempty"`

	// LogScan
	PriorityFloor int       `json:"priority_floor,omitempty"`
	Since         time.Time `json:"since,omitempty"`

	// Command
	Path string   `json:"path,omitempty"`
	Args []string `json:"args,omitempty"`

	// Webhook
	URL string `json:"url,omitempty"`
}

// RunRecord is one entry in a routine's bounded run history.
type RunRecord struct {
	StartedAt time.Time `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}

// Routine is a single scheduled background task.
type Routine struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Trigger Trigger     `json:"trigger"`
	Action  Action      `json:"action"`
	History []RunRecord `json:"history"`
	NextRun time.Time   `json:"next_run,omitempty"`
}

// ─── mesh ───────────────────────────────────────────────────────────────────

// ConnectionState tracks a peer's live transport state.
type ConnectionState string

const (
	PeerDisconnected ConnectionState = "Disconnected"
	PeerConnecting   ConnectionState = "Connecting"
	PeerConnected    ConnectionState = "Connected"
)

// PeerRecord is a known mesh peer, persisted across restarts.
type PeerRecord struct {
	InstanceID    string          `json:"instance_id"`
	Endpoint      string          `json:"endpoint"`
	Ed25519Pub    []byte          `json:"ed25519_pub"`
	X25519Pub     []byte          `json:"x25519_pub"`
	MLKEMPub      []byte          `json:"mlkem_pub"`
	Label         string          `json:"label"`
	State         ConnectionState `json:"state"`
	LastSeen      time.Time       `json:"last_seen"`
}

// MeshMessageKind discriminates the mesh wire protocol's message
// types; all are wire-encrypted inside a transport-mode frame.
type MeshMessageKind string

const (
	MsgHeartbeat       MeshMessageKind = "Heartbeat"
	MsgHealthReport    MeshMessageKind = "HealthReport"
	MsgAlert           MeshMessageKind = "Alert"
	MsgChat            MeshMessageKind = "Chat"
	MsgLedgerSync      MeshMessageKind = "LedgerSync"
	MsgCommand         MeshMessageKind = "Command"
	MsgCommandResponse MeshMessageKind = "CommandResponse"
	MsgPeerAnnounce    MeshMessageKind = "PeerAnnounce"
	MsgKeyRotation     MeshMessageKind = "KeyRotation"
	MsgPqExchange      MeshMessageKind = "PqExchange"
)

// MeshMessage is the tagged union carried inside every transport-mode
// frame once a session is established.
type MeshMessage struct {
	Kind      MeshMessageKind `json:"kind"`
	RoomID    string          `json:"room_id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Payload   []byte          `json:"payload,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

// Room is an in-memory set of connected peers with bounded history.
type Room struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Members     []string      `json:"members"` // instance ids
	History     []MeshMessage `json:"history"`
	DeliveredTo int           `json:"delivered_to"`
}

// Invite is the decoded form of a base64url invite code.
type Invite struct {
	Endpoint      string `json:"endpoint"`
	X25519Pub     []byte `json:"x25519_static_pub"`
	Ed25519Pub    []byte `json:"ed25519_pub"`
	MLKEMPub      []byte `json:"mlkem_pub"`
	TTLUnixMS     int64  `json:"ttl_unix_ms"`
	Nonce         string `json:"nonce"`
}

// ─── keyd ───────────────────────────────────────────────────────────────────

// Chain enumerates the two supported wallet families.
type Chain string

const (
	ChainETH Chain = "ETH"
	ChainSOL Chain = "SOL"
)

// Wallet is a custodial key record. EncryptedKey is the only
// persisted secret; the decrypted key lives in process memory only.
type Wallet struct {
	ID           string    `json:"id"`
	Chain        Chain     `json:"chain"`
	Address      string    `json:"address"`
	Label        string    `json:"label"`
	EncryptedKey []byte    `json:"encrypted_key"` // nonce || ciphertext
	CreatedAt    time.Time `json:"created_at"`
}

// PolicyRule is one entry in keyd's ordered rule list; first match
// wins.
type PolicyRule struct {
	ID                  string   `json:"id"`
	DailyCapUSD         string   `json:"daily_cap_usd,omitempty"`         // fixed-point decimal string
	PerOpCapUSD         string   `json:"per_op_cap_usd,omitempty"`        // fixed-point decimal string
	AllowedDestinations []string `json:"allowed_destinations,omitempty"`
}

// DayCounter tracks one wallet's signing activity for one UTC day.
type DayCounter struct {
	Date        string `json:"date"` // YYYY-MM-DD, UTC
	SignCount   int    `json:"sign_count"`
	SpentFixed  string `json:"spent_fixed"` // 18-decimal fixed-point decimal string
}

// ─── teachd ─────────────────────────────────────────────────────────────────

// ObservationSource enumerates where a reading came from.
type ObservationSource string

const (
	SourceCPU     ObservationSource = "cpu"
	SourceMemory  ObservationSource = "memory"
	SourceService ObservationSource = "service"
	SourceJournal ObservationSource = "journal"
)

// Observation is one sampled reading from the OBSERVE loop.
type Observation struct {
	ID          int64             `json:"id"`
	Source      ObservationSource `json:"source"`
	CollectedAt time.Time         `json:"collected_at"`
	Data        map[string]any    `json:"data"`
}

// PatternKind enumerates the four LEARN detectors.
type PatternKind string

const (
	PatternRecurringFailure PatternKind = "recurring_failure"
	PatternResourceTrend    PatternKind = "resource_trend"
	PatternAnomaly          PatternKind = "anomaly"
	PatternCorrelation      PatternKind = "correlation"
)

// Pattern is a detected regularity with a confidence score in [0,1].
type Pattern struct {
	ID         int64       `json:"id"`
	Kind       PatternKind `json:"kind"`
	Confidence float64     `json:"confidence"`
	Evidence   []int64     `json:"evidence"` // observation ids
	DetectedAt time.Time   `json:"detected_at"`
}

// KnowledgeOrigin distinguishes auto-generated from hand-authored docs.
type KnowledgeOrigin string

const (
	OriginAuto   KnowledgeOrigin = "auto"
	OriginManual KnowledgeOrigin = "manual"
)

// KnowledgeDoc is a retrieval unit surfaced by /teach.
type KnowledgeDoc struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	Category  string          `json:"category"`
	Content   string          `json:"content"`
	Tags      []string        `json:"tags"`
	Origin    KnowledgeOrigin `json:"origin"`
	PatternID int64           `json:"pattern_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ─── mcpd ───────────────────────────────────────────────────────────────────

// Transport enumerates how mcpd talks to a subprocess server.
type Transport string

const (
	TransportStdio Transport = "stdio"
)

// MCPServerConfig declares one subprocess MCP server to supervise.
type MCPServerConfig struct {
	Name           string            `json:"name"`
	Command        string            `json:"command"`
	Args           []string          `json:"args"`
	Transport      Transport         `json:"transport"`
	Env            map[string]string `json:"env,omitempty"`
	SecretFile     string            `json:"secret_file,omitempty"`
	SecretEnvVar   string            `json:"secret_env_var,omitempty"`
	AllowedDomains []string          `json:"allowed_domains,omitempty"`
}

// ServerStatus is the runtime status mcpd reports for one server.
type ServerStatus struct {
	Name          string    `json:"name"`
	Running       bool      `json:"running"`
	PID           int       `json:"pid,omitempty"`
	RestartCount  int       `json:"restart_count"`
	LastStartedAt time.Time `json:"last_started_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}
