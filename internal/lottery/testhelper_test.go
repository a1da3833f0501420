package lottery

import (
	"fmt"
	"time"

	"github.com/nantokaworks/giveaway-draw/internal/types"
)

// GenerateEntries はN件分のテスト応募を決定論的に生成する。
func GenerateEntries(n int) []types.Entry {
	if n <= 0 {
		return []types.Entry{}
	}

	entries := make([]types.Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = GenerateEntry(i)
	}

	return entries
}

// GenerateEntry は1件分のテスト応募を決定論的に生成する。
func GenerateEntry(index int) types.Entry {
	if index < 0 {
		index = 0
	}

	return types.Entry{
		ID:           fmt.Sprintf("entry-%03d", index+1),
		WindowID:     "0001",
		TicketNumber: fmt.Sprintf("%015d", (index*7919)%1000),
		Origin:       fmt.Sprintf("10.0.0.%d", index%10),
		Identity:     fmt.Sprintf("test-user-%03d", index+1),
		Profile: types.Profile{
			Username: fmt.Sprintf("user_%03d", index+1),
		},
		SubmittedAt: time.Unix(0, 0).Add(time.Duration(index) * time.Second),
	}
}
