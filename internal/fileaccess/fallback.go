package fileaccess

import (
	"context"
	"fmt"
	"strings"

	"courier/internal/api"
	"courier/internal/store"
)

// Session represents an access handle and its cleanup function.
type Session struct {
	Access Access
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback tries the daemon API first, then falls back to direct
// store access. dial should return an error unless the daemon answered.
func OpenWithFallback(
	ctx context.Context,
	dial func(context.Context) (*api.Client, error),
	openStore func() (*store.Store, error),
	presigner api.Presigner,
) (Session, error) {
	if dial != nil {
		if client, err := dial(ctx); err == nil && client != nil {
			return Session{Access: NewHTTPAccess(client)}, nil
		}
	}

	if openStore == nil {
		return Session{}, fmt.Errorf("open store: no store opener configured")
	}
	st, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open store: %w", err)
	}
	return Session{
		Access: NewStoreAccess(st, presigner),
		close:  st.Close,
	}, nil
}

// ParseStatuses validates status names supplied by a user.
func ParseStatuses(values []string) ([]store.Status, error) {
	var out []store.Status
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		status, ok := store.ParseStatus(trimmed)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		out = append(out, status)
	}
	return out, nil
}
