package pawchat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizer_Normalize(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	n := Normalizer{Now: func() time.Time { return now }}

	tests := []struct {
		name      string
		createdAt WireTime
		want      time.Time
	}{
		{
			name:      "full timestamp",
			createdAt: WireTime{2024, 3, 15, 9, 30, 5},
			want:      time.Date(2024, 3, 15, 9, 30, 5, 0, time.UTC),
		},
		{
			name:      "with nanos",
			createdAt: WireTime{2024, 3, 15, 9, 30, 5, 250000000},
			want:      time.Date(2024, 3, 15, 9, 30, 5, 250000000, time.UTC),
		},
		{name: "empty", createdAt: WireTime{}, want: now},
		{name: "nil", createdAt: nil, want: now},
		{name: "too short", createdAt: WireTime{2024, 3, 15, 9, 30}, want: now},
		{name: "month zero", createdAt: WireTime{2024, 0, 15, 9, 30, 5}, want: now},
		{name: "hour 24", createdAt: WireTime{2024, 3, 15, 24, 0, 0}, want: now},
		{name: "february 30", createdAt: WireTime{2024, 2, 30, 9, 0, 0}, want: now},
		{name: "leap day", createdAt: WireTime{2024, 2, 29, 9, 0, 0}, want: time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(Envelope{MessageID: 1, CreatedAt: tt.createdAt})
			if !got.Time.Equal(tt.want) {
				t.Errorf("Time = %v, want %v", got.Time, tt.want)
			}
		})
	}
}

func TestNormalizer_Fields(t *testing.T) {
	env := Envelope{
		ChatroomID: 3,
		MessageID:  991,
		SenderID:   42,
		Content:    "found your cat",
		CreatedAt:  WireTime{2024, 3, 15, 9, 30, 5},
		Read:       true,
	}
	want := Message{
		ID:       "991",
		Text:     "found your cat",
		SenderID: 42,
		Time:     time.Date(2024, 3, 15, 9, 30, 5, 0, time.UTC),
		Read:     true,
		Kind:     KindText,
	}
	if diff := cmp.Diff(want, Normalizer{}.Normalize(env)); diff != "" {
		t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizer_Location(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	n := Normalizer{Location: seoul}
	got := n.Normalize(Envelope{CreatedAt: WireTime{2024, 3, 15, 9, 0, 0}})
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !got.Time.Equal(want) || got.Time.Location() != time.UTC {
		t.Errorf("Time = %v, want %v in UTC", got.Time, want)
	}
}

func TestWireTime_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want WireTime
	}{
		{name: "array", in: `[2024,3,15,9,30,5]`, want: WireTime{2024, 3, 15, 9, 30, 5}},
		{name: "empty array", in: `[]`, want: WireTime{}},
		{name: "null", in: `null`, want: nil},
		{name: "string", in: `"2024-03-15T09:30:05"`, want: nil},
		{name: "non numeric element", in: `[2024,"3",15]`, want: nil},
		{name: "fractional element", in: `[2024,3.5,15]`, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			if err := json.Unmarshal([]byte(`{"messageId":1,"createdAt":`+tt.in+`}`), &env); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if diff := cmp.Diff(tt.want, env.CreatedAt); diff != "" {
				t.Errorf("CreatedAt mismatch (-want +got):\n%s", diff)
			}
			if env.MessageID != 1 {
				t.Errorf("MessageID = %d, want 1", env.MessageID)
			}
		})
	}
}

func TestNormalizer_EmptyCreatedAtIsRecent(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"messageId":7,"senderId":1,"content":"hi","createdAt":[]}`), &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := Normalizer{}.Normalize(env)
	if d := time.Since(got.Time); d < 0 || d > 5*time.Second {
		t.Errorf("Time = %v, want close to now", got.Time)
	}
}
