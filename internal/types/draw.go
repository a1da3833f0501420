package types

import "time"

// Profile は参加者が入力した任意のプロフィール。中身は解釈しない
type Profile struct {
	Username       string `json:"username"`
	Phone          string `json:"phone"`
	SecretQuestion string `json:"secretQuestion"`
	SecretAnswer   string `json:"secretAnswer"`
}

// Entry は受理された1口分の応募。作成後は変更しない
type Entry struct {
	ID           string    `json:"id"`
	WindowID     string    `json:"drawNumber"`
	TicketNumber string    `json:"ticketNumber"`
	Origin       string    `json:"ip"`
	Identity     string    `json:"userId"`
	Profile      Profile   `json:"profile"`
	SubmittedAt  time.Time `json:"timestamp"`
}

// WinnerDetails は当選エントリのプロフィールのスナップショット
type WinnerDetails struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SnapshotOf copies the profile fields of an entry into winner details.
func SnapshotOf(e Entry) *WinnerDetails {
	return &WinnerDetails{
		Username: e.Profile.Username,
		Phone:    e.Profile.Phone,
		Question: e.Profile.SecretQuestion,
		Answer:   e.Profile.SecretAnswer,
	}
}

// DrawRecord は1ウィンドウ分の抽選結果。PickedAtが入った後は不変
type DrawRecord struct {
	WindowID      string         `json:"drawNumber"`
	PickedAt      *time.Time     `json:"pickedAt,omitempty"`
	WinnerTicket  string         `json:"winnerTicket,omitempty"`
	WinnerDetails *WinnerDetails `json:"winnerDetails,omitempty"`
	Message       string         `json:"message,omitempty"`
	CreatedAt     time.Time      `json:"-"`
}

// IsPicked reports whether the record has been frozen by a pick.
func (r *DrawRecord) IsPicked() bool {
	return r != nil && r.PickedAt != nil
}
