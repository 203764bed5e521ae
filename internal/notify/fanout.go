// Package notify fans incident notifications out to the configured channels.
// The channel implementations live in the slack, webhook and pubsub
// subpackages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/respond/internal/incident"
)

// Channel is one named delivery target.
type Channel struct {
	Name     string
	Notifier incident.Notifier
}

// Fanout delivers every notification to all channels concurrently. One
// channel failing does not stop the others.
type Fanout struct {
	channels  []Channel
	logger    log.Logger
	onDeliver func(channel string, ok bool, dur time.Duration)
}

var _ incident.Notifier = (*Fanout)(nil)

// NewFanout returns a Fanout over channels. Channels with a nil Notifier are
// dropped. onDeliver may be nil.
func NewFanout(logger log.Logger, onDeliver func(channel string, ok bool, dur time.Duration), channels ...Channel) *Fanout {
	if logger == nil {
		logger = log.Nop()
	}
	f := &Fanout{logger: logger, onDeliver: onDeliver}
	for _, c := range channels {
		if c.Notifier != nil {
			f.channels = append(f.channels, c)
		}
	}
	return f
}

// Len reports the number of active channels.
func (f *Fanout) Len() int { return len(f.channels) }

// Notify sends n to every channel and returns the joined channel errors.
func (f *Fanout) Notify(ctx context.Context, n *incident.Notification) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, c := range f.channels {
		g.Go(func() error {
			start := time.Now()
			err := c.Notifier.Notify(ctx, n)
			dur := time.Since(start)
			if f.onDeliver != nil {
				f.onDeliver(c.Name, err == nil, dur)
			}
			if err != nil {
				f.logger.Error(ctx, err, "notification channel failed", "channel", c.Name, "type", n.Type, "title", n.Title)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
