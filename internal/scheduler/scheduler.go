// Package scheduler delivers due reminders. A cron-driven sweep reads
// unsent reminders from the store and publishes them on the bus.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/haloweave/cortana/internal/bus"
	"github.com/haloweave/cortana/internal/store"
)

// DefaultSweepSpec runs the sweep every minute.
const DefaultSweepSpec = "* * * * *"

// purgeSpec trims old sent reminders once a day.
const purgeSpec = "0 3 * * *"

// purgeAfter is how long delivered reminders are kept around.
const purgeAfter = 30 * 24 * time.Hour

type Service struct {
	store *store.Store
	bus   *bus.MessageBus
	spec  string

	mu   sync.Mutex
	cron *rcron.Cron

	// now is swappable for tests
	now func() time.Time
}

func NewService(st *store.Store, b *bus.MessageBus, spec string) *Service {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	return &Service{
		store: st,
		bus:   b,
		spec:  spec,
		now:   time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	c := rcron.New()
	if _, err := c.AddFunc(s.spec, func() {
		s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("register reminder sweep %q: %w", s.spec, err)
	}
	if _, err := c.AddFunc(purgeSpec, s.Purge); err != nil {
		return fmt.Errorf("register reminder purge: %w", err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	log.Printf("[scheduler] reminder sweep started (%s)", s.spec)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[scheduler] stop timeout waiting for running sweep")
	}
	log.Printf("[scheduler] stopped")
}

// Sweep publishes every due reminder and marks it sent. Reminders are
// marked sent even when publishing fails downstream, so a broken
// recipient never causes endless resends.
func (s *Service) Sweep(ctx context.Context) int {
	due, err := s.store.DueReminders(s.now())
	if err != nil {
		log.Printf("[scheduler] query due reminders: %v", err)
		return 0
	}

	delivered := 0
	for _, r := range due {
		msg := bus.OutboundMessage{
			Channel: r.Channel,
			ChatID:  r.ChatID,
			Content: fmt.Sprintf("⏰ Reminder: %s", r.Message),
		}

		select {
		case s.bus.Outbound <- msg:
		case <-ctx.Done():
			return delivered
		}

		if err := s.store.MarkReminderSent(r.ID); err != nil {
			log.Printf("[scheduler] mark reminder %d sent: %v", r.ID, err)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		log.Printf("[scheduler] delivered %d reminder(s)", delivered)
	}
	return delivered
}

// Purge removes delivered reminders older than the retention window.
func (s *Service) Purge() {
	n, err := s.store.PurgeSentReminders(s.now().Add(-purgeAfter))
	if err != nil {
		log.Printf("[scheduler] purge sent reminders: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[scheduler] purged %d old reminder(s)", n)
	}
}
