// Package scheduler runs the periodic draw executor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
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
	// DefaultPollInterval はゲート幅30秒に対して3倍の余裕を持つ
	DefaultPollInterval = 10 * time.Second

	// NoParticipantsMessage is stored when a window closes without entries.
	NoParticipantsMessage = "No Winner Selected Due To Non-Participation"

	// EventDrawPicked is broadcast after a pick is committed.
	EventDrawPicked = "draw_picked"

	notifyTimeout = 15 * time.Second
)

// Notifier receives committed picks, e.g. to message admins.
type Notifier interface {
	NotifyDraw(ctx context.Context, record types.DrawRecord) error
}

// Broadcaster pushes events to live clients.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Outcome describes what one tick did.
type Outcome struct {
	WindowID      string
	State         window.State
	Picked        bool
	AlreadyPicked bool
	Missed        bool
	Record        *types.DrawRecord
}

// PickedEvent is the public payload of EventDrawPicked.
type PickedEvent struct {
	DrawNumber   string    `json:"drawNumber"`
	WinnerTicket string    `json:"winnerTicket,omitempty"`
	Message      string    `json:"message,omitempty"`
	PickedAt     time.Time `json:"pickedAt"`
}

// Executor polls the window resolver and commits at most one pick per window.
type Executor struct {
	store       *localdb.Store
	resolver    window.Resolver
	clock       clock.Clock
	interval    time.Duration
	notifier    Notifier
	broadcaster Broadcaster
	metrics     *metrics.Metrics

	mu            sync.Mutex
	missedChecked string
	notifyWG      sync.WaitGroup
}

type Option func(*Executor)

func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notifier = n }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(e *Executor) { e.broadcaster = b }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func New(store *localdb.Store, resolver window.Resolver, clk clock.Clock, opts ...Option) *Executor {
	if clk == nil {
		clk = clock.Real()
	}
	e := &Executor{
		store:    store,
		resolver: resolver,
		clock:    clk,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run ticks once immediately and then on every poll interval until ctx is
// cancelled. Tick failures are logged and retried on the next tick.
func (e *Executor) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	logger.Info("Draw scheduler started", zap.Duration("interval", e.interval))
	e.safeTick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.notifyWG.Wait()
			logger.Info("Draw scheduler stopped")
			return
		case <-ticker.C:
			e.safeTick(ctx)
		}
	}
}

func (e *Executor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.TickFailed()
			logger.Error("Draw tick panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	if _, err := e.Tick(ctx); err != nil {
		e.metrics.TickFailed()
		logger.Error("Draw tick failed", zap.Error(err))
	}
}

// Tick performs one poll. Outside the pick gate it does nothing except the
// missed-window check. Inside the gate it loads or creates the window's
// record and, if not yet picked, selects and commits the winner in the same
// write transaction.
func (e *Executor) Tick(ctx context.Context) (*Outcome, error) {
	now := e.clock.Now()
	e.metrics.Ticked(float64(now.UnixNano()) / float64(time.Second))

	if err := e.store.SetLastDrawCheck(ctx, now); err != nil {
		// 診断用の値なので抽選は続行する
		logger.Warn("Failed to record last draw check", zap.Error(err))
	}

	info, ok := e.resolver.Resolve(now)
	if !ok {
		return &Outcome{}, nil
	}

	outcome := &Outcome{WindowID: info.WindowID, State: info.State}

	if !info.IsPickInstant {
		if info.State == window.StateAnnouncing {
			missed, err := e.checkMissed(ctx, info.WindowID)
			if err != nil {
				return outcome, err
			}
			outcome.Missed = missed
		}
		return outcome, nil
	}

	var record *types.DrawRecord
	err := e.store.WithTx(ctx, func(tx *localdb.Tx) error {
		if err := tx.EnsureDraw(ctx, info.WindowID, now); err != nil {
			return err
		}

		current, err := tx.GetDraw(ctx, info.WindowID)
		if err != nil {
			return err
		}
		if current.IsPicked() {
			outcome.AlreadyPicked = true
			record = current
			return nil
		}

		entries, err := tx.EntriesFor(ctx, info.WindowID)
		if err != nil {
			return err
		}

		pickedAt := now
		next := types.DrawRecord{
			WindowID:  info.WindowID,
			PickedAt:  &pickedAt,
			CreatedAt: current.CreatedAt,
		}

		winner, err := lottery.PickWinner(entries)
		switch {
		case errors.Is(err, lottery.ErrNoEntries):
			next.Message = NoParticipantsMessage
		case err != nil:
			return fmt.Errorf("failed to pick winner for window %s: %w", info.WindowID, err)
		default:
			next.WinnerTicket = winner.TicketNumber
			next.WinnerDetails = types.SnapshotOf(*winner)
		}

		if err := tx.CommitPick(ctx, next); err != nil {
			return err
		}
		outcome.Picked = true
		record = &next
		return nil
	})
	if err != nil {
		return outcome, err
	}

	outcome.Record = record
	if outcome.Picked {
		e.afterPick(*record)
	}
	return outcome, nil
}

// checkMissed reports a window whose gate passed without a committed pick.
// Each window is evaluated once.
func (e *Executor) checkMissed(ctx context.Context, windowID string) (bool, error) {
	e.mu.Lock()
	if e.missedChecked == windowID {
		e.mu.Unlock()
		return false, nil
	}
	e.mu.Unlock()

	rec, err := e.store.GetDraw(ctx, windowID)
	if err != nil && !errors.Is(err, localdb.ErrDrawNotFound) {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.missedChecked == windowID {
		return false, nil
	}
	e.missedChecked = windowID

	if rec.IsPicked() {
		return false, nil
	}

	e.metrics.WindowMissed()
	logger.Warn("Pick gate passed without a committed draw; window stays unpicked",
		zap.String("window_id", windowID))
	return true, nil
}

func (e *Executor) afterPick(record types.DrawRecord) {
	outcome := metrics.OutcomeWinner
	if record.WinnerTicket == "" {
		outcome = metrics.OutcomeNoEntries
	}
	e.metrics.DrawPicked(outcome)

	logger.Info("Draw picked",
		zap.String("window_id", record.WindowID),
		zap.String("winner_ticket", record.WinnerTicket),
		zap.String("message", record.Message))

	// 配信が失敗しても管理者通知は送る
	if e.notifier != nil {
		e.notifyWG.Add(1)
		go func() {
			defer e.notifyWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := e.notifier.NotifyDraw(ctx, record); err != nil {
				logger.Warn("Failed to notify draw result",
					zap.String("window_id", record.WindowID),
					zap.Error(err))
			}
		}()
	}

	if e.broadcaster != nil {
		// 当選者のプロフィールは配信しない
		e.broadcaster.Broadcast(EventDrawPicked, PickedEvent{
			DrawNumber:   record.WindowID,
			WinnerTicket: record.WinnerTicket,
			Message:      record.Message,
			PickedAt:     *record.PickedAt,
		})
	}
}
