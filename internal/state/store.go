package state

import "context"

// Store is a small key/value store for data the bot can re-derive, such as
// exchange API credentials. Accounts, strategies and alerts never go here.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
