package api

import (
	"slices"
	"strings"
	"time"

	"courier/internal/splitter"
	"courier/internal/stage"
	"courier/internal/store"
	"courier/internal/workflow"
)

// FromFileRecord converts a store record to its API representation.
func FromFileRecord(rec *store.FileRecord) FileRecord {
	if rec == nil {
		return FileRecord{}
	}
	return FileRecord{
		ID:               rec.ID,
		Path:             rec.Path,
		Size:             rec.Size,
		ModTime:          formatTime(rec.ModTime),
		Digest:           rec.Digest,
		Status:           string(rec.Status),
		Encrypted:        rec.Encrypted,
		FileID:           rec.FileID,
		ProcessingTimeMS: rec.ProcessingTime.Milliseconds(),
		TransferRate:     rec.TransferRate,
		ErrorMessage:     rec.ErrorMessage,
		DiscoveredAt:     formatTime(rec.DiscoveredAt),
		UpdatedAt:        formatTime(rec.UpdatedAt),
	}
}

// FromFileRecords converts a slice of records, dropping nil entries.
func FromFileRecords(recs []*store.FileRecord) []FileRecord {
	out := make([]FileRecord, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		out = append(out, FromFileRecord(rec))
	}
	return out
}

// FromUpload converts an upload and its parts. The reassembly hint is only
// set for uploads with more than one part.
func FromUpload(up *store.Upload, parts []*store.PartRecord) Upload {
	if up == nil {
		return Upload{}
	}
	dto := Upload{
		FileID:           up.ID,
		RecordID:         up.RecordID,
		Name:             up.Name,
		SourcePath:       up.SourcePath,
		Digest:           up.Digest,
		ArchiveName:      up.ArchiveName,
		ArchiveSize:      up.ArchiveSize,
		ArchiveDigest:    up.ArchiveDigest,
		PartCount:        up.PartCount,
		Encrypted:        up.Encrypted,
		Compression:      up.Compression,
		Status:           string(up.Status),
		ForwardStatus:    up.ForwardStatus,
		ProcessingTimeMS: up.ProcessingTime.Milliseconds(),
		TransferRate:     up.TransferRate,
		ErrorMessage:     up.ErrorMessage,
		CreatedAt:        formatTime(up.CreatedAt),
		Parts:            make([]Part, 0, len(parts)),
	}
	if up.CompletedAt != nil {
		dto.CompletedAt = formatTime(*up.CompletedAt)
	}
	if up.PartCount > 1 && up.ArchiveName != "" {
		dto.ReassemblyHint = splitter.ReassemblyHint(up.ArchiveName, up.PartCount)
	}
	for _, part := range parts {
		if part == nil {
			continue
		}
		dto.Parts = append(dto.Parts, FromPart(part))
	}
	return dto
}

// FromPart converts a part record.
func FromPart(part *store.PartRecord) Part {
	if part == nil {
		return Part{}
	}
	dto := Part{
		Index:         part.Index,
		Count:         part.Count,
		Name:          part.Name,
		Size:          part.Size,
		Offset:        part.Offset,
		Status:        string(part.Status),
		Stream:        part.Stream,
		Sequence:      part.Sequence,
		Attempts:      part.Attempts,
		ForwardStatus: part.ForwardStatus,
		ErrorMessage:  part.ErrorMessage,
	}
	if part.SentAt != nil {
		dto.SentAt = formatTime(*part.SentAt)
	}
	return dto
}

// FromDedupEntries converts the dedup index.
func FromDedupEntries(entries []store.DedupEntry) []DedupEntry {
	out := make([]DedupEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, DedupEntry{
			Digest:    entry.Digest,
			FileID:    entry.FileID,
			Size:      entry.Size,
			FirstSeen: formatTime(entry.FirstSeen),
		})
	}
	return out
}

// FromStatusSummary converts workflow status into its API representation.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:        summary.Running,
		ProcessQueue:   summary.ProcessQueue,
		DispatchQueue:  summary.DispatchQueue,
		ActiveFiles:    summary.ActiveFiles,
		LockedDigests:  summary.LockedDigests,
		LimiterWaiting: summary.LimiterWaiting,
		Records:        MergeRecordStats(summary.Records),
		Uploads:        summary.Uploads,
		DedupEntries:   summary.DedupEntries,
		LastError:      summary.LastError,
		Health:         HealthSlice(summary.Health),
	}
	if summary.LastFile != nil {
		last := FromFileRecord(summary.LastFile)
		status.LastFile = &last
	}
	return status
}

// MergeRecordStats returns counts for every status, including zeros.
func MergeRecordStats(stats map[store.Status]int) map[string]int {
	out := make(map[string]int, len(store.AllStatuses()))
	for _, status := range store.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// HealthSlice returns the health map ordered by component name.
func HealthSlice(health map[string]stage.Health) []Health {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]Health, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, Health{Name: h.Name, Ready: h.Ready, Detail: strings.TrimSpace(h.Detail)})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
