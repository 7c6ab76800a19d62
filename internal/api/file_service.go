package api

import (
	"context"
	"time"

	"courier/internal/reporter"
	"courier/internal/store"
)

// DefaultLinkTTL is how long presigned part links stay valid.
const DefaultLinkTTL = time.Hour

// Store abstracts the persistence calls the file service needs.
type Store interface {
	ListRecords(ctx context.Context, statuses ...store.Status) ([]*store.FileRecord, error)
	GetRecord(ctx context.Context, id int64) (*store.FileRecord, error)
	GetUpload(ctx context.Context, id int64) (*store.Upload, error)
	ListUploads(ctx context.Context, limit int) ([]*store.Upload, error)
	Parts(ctx context.Context, uploadID int64) ([]*store.PartRecord, error)
	ListDedup(ctx context.Context) ([]store.DedupEntry, error)
	RetryFailed(ctx context.Context, ids ...int64) (int64, error)
	ClearRecords(ctx context.Context, statuses ...store.Status) (int64, error)
	ForgetDigest(ctx context.Context, digest string) (bool, error)
}

// Presigner produces download links for forwarded parts.
type Presigner interface {
	Key(fileID int64, name string) string
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// FileService exposes record and upload operations returning API DTOs.
type FileService struct {
	store     Store
	presigner Presigner
	linkTTL   time.Duration
}

// NewFileService constructs a FileService. presigner may be nil.
func NewFileService(st Store, presigner Presigner) *FileService {
	if st == nil {
		return nil
	}
	return &FileService{store: st, presigner: presigner, linkTTL: DefaultLinkTTL}
}

// List returns records filtered by status.
func (s *FileService) List(ctx context.Context, statuses ...store.Status) ([]FileRecord, error) {
	if s == nil {
		return nil, nil
	}
	recs, err := s.store.ListRecords(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromFileRecords(recs), nil
}

// Uploads returns the most recent uploads without their parts.
func (s *FileService) Uploads(ctx context.Context, limit int) ([]Upload, error) {
	if s == nil {
		return nil, nil
	}
	ups, err := s.store.ListUploads(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Upload, 0, len(ups))
	for _, up := range ups {
		if up == nil {
			continue
		}
		out = append(out, FromUpload(up, nil))
	}
	return out, nil
}

// Describe looks up an upload by file-id. It returns nil when the file-id is
// unknown. Sent parts get a presigned link when a presigner is configured
// and the part was forwarded.
func (s *FileService) Describe(ctx context.Context, fileID int64) (*FileResponse, error) {
	if s == nil {
		return nil, nil
	}
	up, err := s.store.GetUpload(ctx, fileID)
	if err != nil || up == nil {
		return nil, err
	}
	parts, err := s.store.Parts(ctx, up.ID)
	if err != nil {
		return nil, err
	}
	resp := &FileResponse{Upload: FromUpload(up, parts)}
	if s.presigner != nil {
		for i := range resp.Upload.Parts {
			part := &resp.Upload.Parts[i]
			if part.ForwardStatus != reporter.ForwardOK {
				continue
			}
			link, err := s.presigner.PresignGet(ctx, s.presigner.Key(up.ID, part.Name), s.linkTTL)
			if err != nil {
				return nil, err
			}
			part.Link = link
		}
	}
	rec, err := s.store.GetRecord(ctx, up.RecordID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		dto := FromFileRecord(rec)
		resp.Record = &dto
	}
	return resp, nil
}

// Dedup returns every dedup entry.
func (s *FileService) Dedup(ctx context.Context) ([]DedupEntry, error) {
	if s == nil {
		return nil, nil
	}
	entries, err := s.store.ListDedup(ctx)
	if err != nil {
		return nil, err
	}
	return FromDedupEntries(entries), nil
}

// Retry re-arms failed and blocked records; all of them when ids is empty.
func (s *FileService) Retry(ctx context.Context, ids ...int64) (int64, error) {
	if s == nil {
		return 0, nil
	}
	return s.store.RetryFailed(ctx, ids...)
}

// Clear removes records with the given statuses, or all records.
func (s *FileService) Clear(ctx context.Context, statuses ...store.Status) (int64, error) {
	if s == nil {
		return 0, nil
	}
	return s.store.ClearRecords(ctx, statuses...)
}

// Forget drops one dedup entry.
func (s *FileService) Forget(ctx context.Context, digest string) (bool, error) {
	if s == nil {
		return false, nil
	}
	return s.store.ForgetDigest(ctx, digest)
}
