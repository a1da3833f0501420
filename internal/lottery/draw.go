package lottery

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/nantokaworks/giveaway-draw/internal/types"
)

const (
	// TicketDigits は券番号の桁数
	TicketDigits = 15
	// TicketSpace is the number of distinct ticket numbers, 10^15.
	TicketSpace int64 = 1_000_000_000_000_000
)

var (
	ErrNoEntries     = errors.New("no entries")
	errInvalidBounds = errors.New("invalid random bound")
)

var drawRandomInt = secureRandomInt

// GenerateTicketNumber returns a uniformly random number in [0, 10^15)
// rendered with exactly 15 digits.
func GenerateTicketNumber() (string, error) {
	n, err := drawRandomInt(TicketSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate ticket number: %w", err)
	}
	return fmt.Sprintf("%0*d", TicketDigits, n), nil
}

// PickWinner selects one entry uniformly at random.
func PickWinner(entries []types.Entry) (*types.Entry, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	// 保存順に依存しないよう(submitted_at, ticket_number)で並べてから引く
	ordered := make([]types.Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].SubmittedAt.Equal(ordered[j].SubmittedAt) {
			return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt)
		}
		return ordered[i].TicketNumber < ordered[j].TicketNumber
	})

	picked, err := drawRandomInt(int64(len(ordered)))
	if err != nil {
		return nil, fmt.Errorf("failed to pick random entry: %w", err)
	}
	if picked < 0 || picked >= int64(len(ordered)) {
		return nil, errInvalidBounds
	}

	winner := ordered[picked]
	return &winner, nil
}

func secureRandomInt(max int64) (int64, error) {
	if max <= 0 {
		return 0, errInvalidBounds
	}

	n, err := crand.Int(crand.Reader, big.NewInt(max))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}
