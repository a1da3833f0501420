// Package ledger issues per-window tickets and enforces the per-origin quota.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nantokaworks/giveaway-draw/internal/clock"
	"github.com/nantokaworks/giveaway-draw/internal/localdb"
	"github.com/nantokaworks/giveaway-draw/internal/lottery"
	"github.com/nantokaworks/giveaway-draw/internal/metrics"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/types"
	"github.com/nantokaworks/giveaway-draw/internal/window"
	"go.uber.org/zap"
)

const (
	// MaxPerOrigin は1ウィンドウ・1オリジンあたりの応募上限
	MaxPerOrigin = 10
	// MaxTicketAttempts bounds the retry-until-unique loop.
	MaxTicketAttempts = 1_000_000
)

var (
	ErrWindowClosed         = errors.New("entry closed for current draw")
	ErrQuotaExceeded        = errors.New("max tickets per origin reached")
	ErrTicketSpaceExhausted = errors.New("could not allocate a unique ticket number")
)

// Submission is one participation request.
type Submission struct {
	Origin   string
	Identity string
	Profile  types.Profile
}

// Receipt is returned for an accepted submission.
type Receipt struct {
	WindowID     string    `json:"drawNumber"`
	TicketNumber string    `json:"ticketNumber"`
	SubmittedAt  time.Time `json:"timestamp"`
}

// Ledger owns entry records.
type Ledger struct {
	store        *localdb.Store
	resolver     window.Resolver
	clock        clock.Clock
	metrics      *metrics.Metrics
	maxPerOrigin int
	maxAttempts  int
	newTicket    func() (string, error)
}

type Option func(*Ledger)

// WithMetrics counts accepted and rejected submissions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithMaxAttempts overrides MaxTicketAttempts.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithTicketSource replaces the ticket number generator.
func WithTicketSource(fn func() (string, error)) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.newTicket = fn
		}
	}
}

func New(store *localdb.Store, resolver window.Resolver, clk clock.Clock, opts ...Option) *Ledger {
	if clk == nil {
		clk = clock.Real()
	}
	l := &Ledger{
		store:        store,
		resolver:     resolver,
		clock:        clk,
		maxPerOrigin: MaxPerOrigin,
		maxAttempts:  MaxTicketAttempts,
		newTicket:    lottery.GenerateTicketNumber,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit validates the current window and quota, then appends an entry with a
// ticket number unique within the window. The whole sequence is one write
// transaction, so concurrent submissions cannot both pass the same check.
func (l *Ledger) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	var receipt *Receipt

	err := l.store.WithTx(ctx, func(tx *localdb.Tx) error {
		now := l.clock.Now()
		info, ok := l.resolver.Resolve(now)
		if !ok || info.State != window.StateEntry {
			return ErrWindowClosed
		}

		count, err := tx.CountByOrigin(ctx, info.WindowID, sub.Origin)
		if err != nil {
			return err
		}
		if count >= l.maxPerOrigin {
			return ErrQuotaExceeded
		}

		ticket, err := l.uniqueTicket(ctx, tx, info.WindowID)
		if err != nil {
			return err
		}

		entry := &types.Entry{
			WindowID:     info.WindowID,
			TicketNumber: ticket,
			Origin:       sub.Origin,
			Identity:     sub.Identity,
			Profile:      sub.Profile,
			SubmittedAt:  now,
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}

		receipt = &Receipt{
			WindowID:     entry.WindowID,
			TicketNumber: entry.TicketNumber,
			SubmittedAt:  entry.SubmittedAt,
		}
		return nil
	})
	if err != nil {
		l.metrics.EntryRejected(rejectionReason(err))
		if !errors.Is(err, ErrWindowClosed) && !errors.Is(err, ErrQuotaExceeded) {
			logger.Error("Failed to submit entry", zap.String("origin", sub.Origin), zap.Error(err))
		}
		return nil, err
	}

	l.metrics.EntryAccepted()
	logger.Info("Entry accepted",
		zap.String("window_id", receipt.WindowID),
		zap.String("ticket_number", receipt.TicketNumber),
		zap.String("origin", sub.Origin))
	return receipt, nil
}

func (l *Ledger) uniqueTicket(ctx context.Context, tx *localdb.Tx, windowID string) (string, error) {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		ticket, err := l.newTicket()
		if err != nil {
			return "", err
		}

		exists, err := tx.TicketExists(ctx, windowID, ticket)
		if err != nil {
			return "", err
		}
		if !exists {
			return ticket, nil
		}

		logger.Debug("Ticket number collision, retrying",
			zap.String("window_id", windowID),
			zap.Int("attempt", attempt+1))
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTicketSpaceExhausted, l.maxAttempts)
}

// EntriesFor returns every entry of the window.
func (l *Ledger) EntriesFor(ctx context.Context, windowID string) ([]types.Entry, error) {
	return l.store.EntriesFor(ctx, windowID)
}

// CountFor returns the number of entries in the window.
func (l *Ledger) CountFor(ctx context.Context, windowID string) (int, error) {
	return l.store.CountEntries(ctx, windowID)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrWindowClosed):
		return metrics.ReasonWindowClosed
	case errors.Is(err, ErrQuotaExceeded):
		return metrics.ReasonQuotaExceeded
	case errors.Is(err, ErrTicketSpaceExhausted):
		return metrics.ReasonTicketExhausted
	default:
		return metrics.ReasonStorage
	}
}
