package store

import "time"

// Status represents the lifecycle of a file record.
type Status string

const (
	StatusPending     Status = "pending"
	StatusHashing     Status = "hashing"
	StatusProcessing  Status = "processing"
	StatusDispatching Status = "dispatching"
	StatusSent        Status = "sent"
	StatusDuplicate   Status = "duplicate"
	StatusFailed      Status = "failed"
	StatusBlocked     Status = "blocked"
)

// inFlightStatuses are reset to pending when the daemon starts, since no
// pipeline can still own them.
var inFlightStatuses = []Status{StatusHashing, StatusProcessing, StatusDispatching}

// AllStatuses lists every record status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusHashing,
		StatusProcessing,
		StatusDispatching,
		StatusSent,
		StatusDuplicate,
		StatusFailed,
		StatusBlocked,
	}
}

// ParseStatus validates a status string supplied by a user.
func ParseStatus(value string) (Status, bool) {
	for _, status := range AllStatuses() {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether the pipeline is finished with the record until
// the file changes.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusDuplicate || s == StatusBlocked
}

// IsInFlight reports whether a pipeline currently owns the record.
func (s Status) IsInFlight() bool {
	for _, status := range inFlightStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// FileRecord tracks one source path through the pipeline.
type FileRecord struct {
	ID             int64
	Path           string
	Size           int64
	ModTime        time.Time
	Digest         string
	Status         Status
	Encrypted      bool
	FileID         int64
	ProcessingTime time.Duration
	TransferRate   float64
	ErrorMessage   string
	DiscoveredAt   time.Time
	UpdatedAt      time.Time
}

// UploadStatus is the state of an upload attempt.
type UploadStatus string

const (
	UploadPending UploadStatus = "pending"
	UploadSending UploadStatus = "sending"
	UploadSent    UploadStatus = "sent"
	UploadFailed  UploadStatus = "failed"
)

// Upload is one dispatch of a file's archive. Its ID is the externally
// visible file-id.
type Upload struct {
	ID             int64
	RecordID       int64
	Name           string
	SourcePath     string
	Digest         string
	ArchiveName    string
	ArchiveSize    int64
	ArchiveDigest  string
	PartCount      int
	Encrypted      bool
	Compression    string
	Status         UploadStatus
	ForwardStatus  string
	ProcessingTime time.Duration
	TransferRate   float64
	ErrorMessage   string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// UploadSpec holds the fields known when a file-id is allocated.
type UploadSpec struct {
	RecordID    int64
	Name        string
	SourcePath  string
	Digest      string
	Encrypted   bool
	Compression string
}

// PartStatus is the dispatch outcome of one transport unit.
type PartStatus string

const (
	PartPending PartStatus = "pending"
	PartSent    PartStatus = "sent"
	PartFailed  PartStatus = "failed"
	PartAborted PartStatus = "aborted"
)

// PartRecord is the persisted state of one transport unit.
type PartRecord struct {
	UploadID      int64
	Index         int
	Count         int
	Name          string
	Size          int64
	Offset        int64
	Status        PartStatus
	Stream        string
	Sequence      uint64
	Attempts      int
	ForwardStatus string
	ErrorMessage  string
	SentAt        *time.Time
}

// DedupEntry records that content with Digest was delivered as FileID.
type DedupEntry struct {
	Digest    string
	FileID    int64
	Size      int64
	FirstSeen time.Time
}

// Stats summarizes the store for status output.
type Stats struct {
	Records map[Status]int
	Uploads int
	Dedup   int
}
