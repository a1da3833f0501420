package window

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// State はウィンドウ内の状態
type State string

const (
	StateEntry      State = "entry"
	StateClosed     State = "closed"
	StateAnnouncing State = "announcing"
)

const (
	// DefaultLength is the length of one draw window.
	DefaultLength = 10 * time.Minute

	closeMinute = 7
	pickMinute  = 8
	pickGate    = 30 * time.Second
	idWidth     = 4
)

var ErrInvalidID = errors.New("invalid window id")

// Info は時刻から導出したウィンドウ情報。保存はしない。
type Info struct {
	WindowID       string    `json:"draw_number"`
	Index          int64     `json:"index"`
	State          State     `json:"state"`
	IsPickInstant  bool      `json:"is_pick_instant"`
	Start          time.Time `json:"start"`
	MinuteInWindow int       `json:"minute_in_window"`
}

// Resolver maps timestamps onto fixed, contiguous windows starting at Epoch.
type Resolver struct {
	Epoch  time.Time
	Length time.Duration
}

// NewResolver returns a Resolver; length <= 0 selects DefaultLength.
func NewResolver(epoch time.Time, length time.Duration) Resolver {
	if length <= 0 {
		length = DefaultLength
	}
	return Resolver{Epoch: epoch, Length: length}
}

// Resolve returns the window containing now. ok is false before the epoch.
func (r Resolver) Resolve(now time.Time) (Info, bool) {
	diff := now.Sub(r.Epoch)
	if diff < 0 {
		return Info{}, false
	}

	intervals := int64(diff / r.length())
	start := r.Epoch.Add(time.Duration(intervals) * r.length())
	offset := now.Sub(start)
	minute := int(offset / time.Minute)

	state := StateEntry
	switch {
	case minute >= pickMinute:
		state = StateAnnouncing
	case minute >= closeMinute:
		state = StateClosed
	}

	return Info{
		WindowID:       FormatID(intervals + 1),
		Index:          intervals + 1,
		State:          state,
		IsPickInstant:  minute == pickMinute && offset%time.Minute < pickGate,
		Start:          start,
		MinuteInWindow: minute,
	}, true
}

// StartOf returns the start time of the 1-based window index.
func (r Resolver) StartOf(index int64) time.Time {
	return r.Epoch.Add(time.Duration(index-1) * r.length())
}

// CloseOf returns the instant entries stop being accepted for the window.
func (r Resolver) CloseOf(index int64) time.Time {
	return r.StartOf(index).Add(closeMinute * time.Minute)
}

// GateEnd returns the instant the pick gate of the window closes.
func (r Resolver) GateEnd(index int64) time.Time {
	return r.StartOf(index).Add(pickMinute*time.Minute + pickGate)
}

func (r Resolver) length() time.Duration {
	if r.Length <= 0 {
		return DefaultLength
	}
	return r.Length
}

// FormatID renders a window index as a zero padded id ("0001").
func FormatID(index int64) string {
	return fmt.Sprintf("%0*d", idWidth, index)
}

// ParseID parses a window id back to its 1-based index.
func ParseID(id string) (int64, error) {
	if id == "" {
		return 0, ErrInvalidID
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return n, nil
}
