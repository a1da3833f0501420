// Package tgauth verifies Telegram WebApp initData payloads.
package tgauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nantokaworks/giveaway-draw/internal/clock"
)

var (
	ErrMissingInitData = errors.New("missing init data")
	ErrInvalidHash     = errors.New("invalid init data hash")
	ErrExpired         = errors.New("init data expired")
	ErrMissingUser     = errors.New("init data has no user")
)

// User is the Telegram account embedded in initData.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// IDString returns the user id as stored on entries.
func (u *User) IDString() string {
	return strconv.FormatInt(u.ID, 10)
}

type Verifier struct {
	BotToken string
	AdminIDs []int64
	// MaxAge が0ならauth_dateの期限は見ない
	MaxAge time.Duration
	Clock  clock.Clock
}

// Verify checks the initData signature and returns its user.
func (v *Verifier) Verify(initData string) (*User, error) {
	if strings.TrimSpace(initData) == "" {
		return nil, ErrMissingInitData
	}
	if v.BotToken == "" {
		return nil, fmt.Errorf("%w: bot token not configured", ErrInvalidHash)
	}

	params, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}

	hash := params.Get("hash")
	if hash == "" {
		return nil, ErrInvalidHash
	}

	expected := Sign(v.BotToken, params)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(hash))) {
		return nil, ErrInvalidHash
	}

	if v.MaxAge > 0 {
		authDate, err := strconv.ParseInt(params.Get("auth_date"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid auth_date", ErrExpired)
		}
		now := time.Now()
		if v.Clock != nil {
			now = v.Clock.Now()
		}
		if now.Sub(time.Unix(authDate, 0)) > v.MaxAge {
			return nil, ErrExpired
		}
	}

	raw := params.Get("user")
	if raw == "" {
		return nil, ErrMissingUser
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID == 0 {
		return nil, ErrMissingUser
	}
	return &user, nil
}

// IsAdmin reports whether id is listed in AdminIDs.
func (v *Verifier) IsAdmin(id int64) bool {
	return slices.Contains(v.AdminIDs, id)
}

// Sign computes the hex hash Telegram attaches to initData: HMAC-SHA256 of
// the sorted "key=value" lines (hash excluded), keyed by
// HMAC-SHA256("WebAppData", botToken).
func Sign(botToken string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+params.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
