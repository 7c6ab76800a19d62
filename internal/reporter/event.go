package reporter

import "time"

// Event types.
const (
	TypeSuccess = "success"
	TypeError   = "error"
)

// Forward outcomes carried in Event.Forward.
const (
	ForwardOK      = "ok"
	ForwardSkipped = "skipped"
	ForwardNone    = ""
)

// Event describes the terminal outcome of one transport unit.
type Event struct {
	Type          string    `json:"type"`
	Name          string    `json:"name"`
	Source        string    `json:"source,omitempty"`
	Digest        string    `json:"digest"`
	ArchiveDigest string    `json:"archive_digest,omitempty"`
	FileID        int64     `json:"file_id"`
	Size          int64     `json:"size"`
	PartIndex     int       `json:"part_index"`
	PartCount     int       `json:"part_count"`
	ProcessingMS  int64     `json:"processing_ms"`
	TransferRate  float64   `json:"transfer_rate"`
	Encrypted     bool      `json:"encrypted"`
	Forward       string    `json:"forward,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Attempts      int       `json:"attempts"`
	Timestamp     time.Time `json:"timestamp"`
}

// Success reports whether the event describes a delivered unit.
func (e Event) Success() bool {
	return e.Type == TypeSuccess
}
