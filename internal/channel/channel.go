// Package channel connects chat platforms to the message bus. Each
// channel translates platform messages into bus.InboundMessage and
// delivers bus.OutboundMessage back to the platform.
package channel

import (
	"context"

	"github.com/haloweave/cortana/internal/bus"
)

// Channel is a chat platform adapter.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel holds the state shared by all channel implementations.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{
		name:      name,
		bus:       b,
		allowFrom: allowFrom,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether senderID passes the allowlist. An empty
// allowlist admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, id := range c.allowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}
