package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FileRecord describes a discovered file in a transport-friendly format.
type FileRecord struct {
	ID               int64   `json:"id"`
	Path             string  `json:"path"`
	Size             int64   `json:"size"`
	ModTime          string  `json:"modTime,omitempty"`
	Digest           string  `json:"digest,omitempty"`
	Status           string  `json:"status"`
	Encrypted        bool    `json:"encrypted"`
	FileID           int64   `json:"fileId,omitempty"`
	ProcessingTimeMS int64   `json:"processingTimeMs,omitempty"`
	TransferRate     float64 `json:"transferRate,omitempty"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
	DiscoveredAt     string  `json:"discoveredAt,omitempty"`
	UpdatedAt        string  `json:"updatedAt,omitempty"`
}

// Part describes one unit of an upload.
type Part struct {
	Index         int    `json:"index"`
	Count         int    `json:"count"`
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	Offset        int64  `json:"offset"`
	Status        string `json:"status"`
	Stream        string `json:"stream,omitempty"`
	Sequence      uint64 `json:"sequence,omitempty"`
	Attempts      int    `json:"attempts"`
	ForwardStatus string `json:"forwardStatus,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	SentAt        string `json:"sentAt,omitempty"`
	Link          string `json:"link,omitempty"`
}

// Upload describes one send of a file, addressed by its file-id.
type Upload struct {
	FileID           int64   `json:"fileId"`
	RecordID         int64   `json:"recordId"`
	Name             string  `json:"name"`
	SourcePath       string  `json:"sourcePath"`
	Digest           string  `json:"digest"`
	ArchiveName      string  `json:"archiveName,omitempty"`
	ArchiveSize      int64   `json:"archiveSize,omitempty"`
	ArchiveDigest    string  `json:"archiveDigest,omitempty"`
	PartCount        int     `json:"partCount"`
	Encrypted        bool    `json:"encrypted"`
	Compression      string  `json:"compression"`
	Status           string  `json:"status"`
	ForwardStatus    string  `json:"forwardStatus,omitempty"`
	ProcessingTimeMS int64   `json:"processingTimeMs,omitempty"`
	TransferRate     float64 `json:"transferRate,omitempty"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
	CreatedAt        string  `json:"createdAt,omitempty"`
	CompletedAt      string  `json:"completedAt,omitempty"`
	ReassemblyHint   string  `json:"reassemblyHint,omitempty"`
	Parts            []Part  `json:"parts"`
}

// DedupEntry is one remembered digest.
type DedupEntry struct {
	Digest    string `json:"digest"`
	FileID    int64  `json:"fileId"`
	Size      int64  `json:"size"`
	FirstSeen string `json:"firstSeen,omitempty"`
}

// Health mirrors readiness reporting for pipeline components.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running        bool           `json:"running"`
	ProcessQueue   int            `json:"processQueue"`
	DispatchQueue  int            `json:"dispatchQueue"`
	ActiveFiles    int            `json:"activeFiles"`
	LockedDigests  int            `json:"lockedDigests"`
	LimiterWaiting int            `json:"limiterWaiting"`
	Records        map[string]int `json:"records"`
	Uploads        int            `json:"uploads"`
	DedupEntries   int            `json:"dedupEntries"`
	LastError      string         `json:"lastError,omitempty"`
	LastFile       *FileRecord    `json:"lastFile,omitempty"`
	Health         []Health       `json:"health"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	WorkDir      string         `json:"workDir"`
	Folders      []string       `json:"folders"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// FileListResponse wraps a collection of records.
type FileListResponse struct {
	Files []FileRecord `json:"files"`
}

// FileResponse wraps a single upload.
type FileResponse struct {
	Upload Upload      `json:"upload"`
	Record *FileRecord `json:"record,omitempty"`
}

// DedupListResponse wraps the dedup entries.
type DedupListResponse struct {
	Entries []DedupEntry `json:"entries"`
}

// RetryRequest selects failed records to re-arm. An empty list retries all.
type RetryRequest struct {
	IDs []int64 `json:"ids,omitempty"`
}

// CountResponse reports how many rows an action touched.
type CountResponse struct {
	Count int64 `json:"count"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
