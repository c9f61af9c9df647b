package broker

import "context"

// Client is the upstream capability contract the sync core consumes.
// Implementations return the typed errors from this package when the
// venue signals a penalty, CAPTCHA suspension or rate limit.
type Client interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	GetBalance(ctx context.Context, accountID int64) (Balance, error)
	ListPositions(ctx context.Context, accountID int64) ([]Position, error)
	ListOrders(ctx context.Context, accountID int64) ([]Order, error)
}
