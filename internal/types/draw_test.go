package types

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestEntry_TagsAreJSONOnly(t *testing.T) {
	typ := reflect.TypeOf(Entry{})
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if tag, ok := field.Tag.Lookup("db"); ok {
			t.Fatalf("Entry.%s carries an unused db tag %q", field.Name, tag)
		}
	}
}

func TestEntry_JSONFieldNames(t *testing.T) {
	entry := Entry{
		ID:           "abc",
		WindowID:     "0001",
		TicketNumber: "000000000000042",
		Origin:       "10.0.0.1",
		Identity:     "99",
		Profile:      Profile{Username: "alice"},
		SubmittedAt:  time.Date(2025, 11, 28, 0, 1, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	for _, key := range []string{"id", "drawNumber", "ticketNumber", "ip", "userId", "profile", "timestamp"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("missing JSON key %q in %s", key, raw)
		}
	}
}

func TestSnapshotOf(t *testing.T) {
	got := SnapshotOf(Entry{Profile: Profile{
		Username:       "bob",
		Phone:          "555",
		SecretQuestion: "pet?",
		SecretAnswer:   "cat",
	}})
	want := &WinnerDetails{Username: "bob", Phone: "555", Question: "pet?", Answer: "cat"}
	if *got != *want {
		t.Fatalf("unexpected snapshot: got=%+v want=%+v", got, want)
	}
}
