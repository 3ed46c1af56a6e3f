package audit

import (
	"context"

	id "vigil/pkg/domain"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
