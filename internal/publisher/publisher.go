// Package publisher pushes call lifecycle events to a message broker.
package publisher

import "context"

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
