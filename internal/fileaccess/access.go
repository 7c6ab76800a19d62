// Package fileaccess serves file queries from the running daemon when it is
// reachable and from the store directly otherwise.
package fileaccess

import (
	"context"

	"courier/internal/api"
	"courier/internal/store"
)

// Access provides record and upload queries regardless of backing.
type Access interface {
	List(ctx context.Context, statuses []string) ([]api.FileRecord, error)
	Describe(ctx context.Context, fileID int64) (*api.FileResponse, error)
	Retry(ctx context.Context, ids []int64) (int64, error)
	// Remote reports whether calls go through the daemon.
	Remote() bool
}

// NewHTTPAccess returns an Access backed by the daemon API.
func NewHTTPAccess(client *api.Client) Access {
	return &httpAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct database access.
// presigner may be nil.
func NewStoreAccess(st *store.Store, presigner api.Presigner) Access {
	return &storeAccess{service: api.NewFileService(st, presigner)}
}

type httpAccess struct {
	client *api.Client
}

func (a *httpAccess) List(ctx context.Context, statuses []string) ([]api.FileRecord, error) {
	return a.client.Files(ctx, statuses...)
}

func (a *httpAccess) Describe(ctx context.Context, fileID int64) (*api.FileResponse, error) {
	return a.client.File(ctx, fileID)
}

func (a *httpAccess) Retry(ctx context.Context, ids []int64) (int64, error) {
	return a.client.Retry(ctx, ids...)
}

func (a *httpAccess) Remote() bool { return true }

type storeAccess struct {
	service *api.FileService
}

func (a *storeAccess) List(ctx context.Context, statuses []string) ([]api.FileRecord, error) {
	parsed, err := ParseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	return a.service.List(ctx, parsed...)
}

func (a *storeAccess) Describe(ctx context.Context, fileID int64) (*api.FileResponse, error) {
	return a.service.Describe(ctx, fileID)
}

func (a *storeAccess) Retry(ctx context.Context, ids []int64) (int64, error) {
	return a.service.Retry(ctx, ids...)
}

func (a *storeAccess) Remote() bool { return false }
