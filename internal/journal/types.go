package journal

import "time"

const (
	ActionStoreInit = "store.init"

	ActionRecordPut    = "record.put"
	ActionRecordDelete = "record.delete"

	ActionSeedRun = "seed.run"

	ActionBackupCreate  = "backup.create"
	ActionBackupRestore = "backup.restore"
)

var AllActions = []string{
	ActionStoreInit,
	ActionRecordPut,
	ActionRecordDelete,
	ActionSeedRun,
	ActionBackupCreate,
	ActionBackupRestore,
}

type Event struct {
	Timestamp  time.Time
	Action     string
	TargetType string
	TargetID   string
	Result     string
	Details    any
}

type Filter struct {
	Action   string
	TargetID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

type RecordedEntry struct {
	ID          string
	Timestamp   time.Time
	Action      string
	TargetType  string
	TargetID    string
	Result      string
	DetailsJSON string
	PrevHash    string
	EntryHash   string
}

type VerifyResult struct {
	Valid      bool
	EntryCount int
	ChainTip   string
	Error      string
}
