package ports

import "context"

// Notifier pushes human-readable status messages to the operator channel.
// Implementations must not block the caller on delivery; failures are logged,
// never propagated.
type Notifier interface {
	Send(ctx context.Context, text string)
}
