// Package archive is the read side over committed draw records.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nantokaworks/giveaway-draw/internal/localdb"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/types"
	"github.com/nantokaworks/giveaway-draw/internal/window"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20

	// DefaultMessage is shown for a window with neither winner nor message.
	DefaultMessage = "No Winner"

	// en-GBの"dd/mm/yyyy, hh:mm:ss"表記
	TimeLayout = "02/01/2006, 15:04:05"
)

var ErrNotFound = errors.New("draw not found")

// Item is one row of the winners list.
type Item struct {
	DrawNumber   string  `json:"drawNumber"`
	Time         string  `json:"time"`
	WinnerTicket *string `json:"winnerTicket"`
	Message      *string `json:"message"`
}

// Page is a slice of the winners list.
type Page struct {
	Items   []Item `json:"winners"`
	HasMore bool   `json:"hasMore"`
}

type Archive struct {
	store    *localdb.Store
	resolver window.Resolver
	location *time.Location
}

// New returns an Archive rendering window start times in loc (nil = Local).
func New(store *localdb.Store, resolver window.Resolver, loc *time.Location) *Archive {
	if loc == nil {
		loc = time.Local
	}
	return &Archive{store: store, resolver: resolver, location: loc}
}

// ListWinners returns draw records newest first.
func (a *Archive) ListWinners(ctx context.Context, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	offset := (page - 1) * pageSize

	total, err := a.store.CountDraws(ctx)
	if err != nil {
		return nil, err
	}

	records, err := a.store.ListDraws(ctx, offset, pageSize)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, a.item(r))
	}

	return &Page{
		Items:   items,
		HasMore: offset+pageSize < total,
	}, nil
}

// GetWinnerDetail returns the full record of one window.
func (a *Archive) GetWinnerDetail(ctx context.Context, windowID string) (*types.DrawRecord, error) {
	if _, err := window.ParseID(windowID); err != nil {
		return nil, ErrNotFound
	}

	rec, err := a.store.GetDraw(ctx, windowID)
	if errors.Is(err, localdb.ErrDrawNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draw %s: %w", windowID, err)
	}
	return rec, nil
}

func (a *Archive) item(r types.DrawRecord) Item {
	it := Item{DrawNumber: r.WindowID}

	if index, err := window.ParseID(r.WindowID); err == nil {
		it.Time = a.resolver.StartOf(index).In(a.location).Format(TimeLayout)
	} else {
		logger.Warn("Stored draw has invalid window id", zap.String("window_id", r.WindowID))
	}

	if r.WinnerTicket != "" {
		ticket := r.WinnerTicket
		it.WinnerTicket = &ticket
	}

	msg := r.Message
	if msg == "" && it.WinnerTicket == nil {
		msg = DefaultMessage
	}
	if msg != "" {
		it.Message = &msg
	}
	return it
}
