package models

// Queue row statuses.
const (
	StatusPending  = "pending"
	StatusReplayed = "replayed"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// Sync history statuses.
const (
	SyncSuccess       = "success"
	SyncReplayPending = "replay_pending"
	SyncReplaySuccess = "replay_success"
	SyncReplayFailed  = "replay_failed"
	SyncSkipped       = "skipped"
	SyncFailed        = "failed"
)

// ActiveSession is the local record for the patient currently at the
// station. At most one row carries a given non-empty idcard; the most
// recently updated row is the designated current session.
type ActiveSession struct {
	ID            int64
	Idcard        string // empty = placeholder awaiting identification
	PID           *int64
	PcuCode       *string
	PcuCodePerson *string
	VisitNo       *int64
	VisitDate     *string
	Weight        *string
	Height        *string
	Pressure      *string
	Temperature   *string
	Pulse         *string
	IsTemp        bool
	SessionStart  string
	LastUpdate    *string
}

// HasVisit reports whether the session carries a resolved visit key; without
// one, remote writes are queued instead of attempted.
func (s *ActiveSession) HasVisit() bool {
	return s.VisitNo != nil && s.PcuCode != nil
}

// PendingMeasurement is a durably queued, not-yet-committed remote write.
type PendingMeasurement struct {
	ID           int64
	Idcard       string
	DeviceType   string
	Value        string
	MeasuredAt   *string
	Status       string
	AttemptCount int
	MaxAttempts  int
	LastError    *string
}

// PendingCardTap is a queued identification event awaiting remote resolution.
type PendingCardTap struct {
	ID           int64
	Idcard       string
	Timestamp    *string
	Status       string
	AttemptCount int
	MaxAttempts  int
	LastError    *string
}

// SyncHistory is an append-only audit row; every reconciliation outcome is
// mirrored here.
type SyncHistory struct {
	ID            int64
	SessionID     *int64
	Idcard        string
	VisitNo       *int64
	FieldsUpdated []string
	SyncStatus    string
	ErrorMessage  *string
	SyncTimestamp string
}

// Person is the remote identity row resolved from an idcard.
type Person struct {
	PID           int64
	PcuCodePerson string
}

// Visit is the remote visit row for the current day.
type Visit struct {
	PcuCode   string
	VisitNo   int64
	VisitDate string
}
