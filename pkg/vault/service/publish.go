package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainsafe/xchain-vault/internal/metrics"
	"github.com/chainsafe/xchain-vault/pkg/vault"
	"github.com/chainsafe/xchain-vault/pkg/vaultstore"
)

// Publisher forwards committed ledger events to downstream consumers such
// as the badge bridge. The event log in the store stays authoritative; a
// failed publish is logged and counted, never rolled back.
type Publisher interface {
	Publish(ctx context.Context, events ...*vault.Event) error
}

// WithPublisher publishes every committed event through p.
func WithPublisher(p Publisher) Option {
	return func(s *vaultService) { s.publisher = p }
}

// recordingTx remembers the events appended inside one transaction.
type recordingTx struct {
	vaultstore.Tx
	events []*vault.Event
}

func (t *recordingTx) AppendEvent(ctx context.Context, event *vault.Event) error {
	if err := t.Tx.AppendEvent(ctx, event); err != nil {
		return err
	}
	t.events = append(t.events, event)
	return nil
}

// runInTx runs fn as one ledger transaction and publishes its events once
// it has committed.
func (s *vaultService) runInTx(ctx context.Context, fn func(ctx context.Context, tx vaultstore.Tx) error) error {
	var committed []*vault.Event
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx vaultstore.Tx) error {
		rec := &recordingTx{Tx: tx}
		if err := fn(ctx, rec); err != nil {
			return err
		}
		committed = rec.events
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, committed)
	return nil
}

func (s *vaultService) publish(ctx context.Context, events []*vault.Event) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		metrics.EventsPublished.WithLabelValues("failed").Add(float64(len(events)))
		s.logger.Warn("Failed to publish vault events",
			zap.Int("events", len(events)),
			zap.String("first_kind", string(events[0].Kind)),
			zap.Error(fmt.Errorf("publish: %w", err)))
		return
	}
	metrics.EventsPublished.WithLabelValues("sent").Add(float64(len(events)))
}
