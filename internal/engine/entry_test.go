package engine

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeEntry(t *testing.T) {
	item := song(101)
	valid := Row{ID: 1, Song: &item, SingerName: "Alex", Status: "queued", RoomCode: "abcd", CreatedAt: base}

	tests := []struct {
		name    string
		mutate  func(r *Row)
		wantErr bool
	}{
		{name: "valid row", mutate: func(*Row) {}},
		{name: "missing catalog join", mutate: func(r *Row) { r.Song = nil }, wantErr: true},
		{name: "unknown status", mutate: func(r *Row) { r.Status = "paused" }, wantErr: true},
		{name: "blank singer", mutate: func(r *Row) { r.SingerName = "  " }, wantErr: true},
		{name: "room code too long", mutate: func(r *Row) { r.RoomCode = "ABCDEFG" }, wantErr: true},
		{name: "room code with symbol", mutate: func(r *Row) { r.RoomCode = "AB-D" }, wantErr: true},
		{name: "negative position clamps", mutate: func(r *Row) { r.PositionSeconds = -3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			e, err := DecodeEntry(r)
			if tt.wantErr {
				if !errors.Is(err, ErrDecode) {
					t.Fatalf("DecodeEntry() error = %v, want ErrDecode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEntry() unexpected error: %v", err)
			}
			if e.RoomCode != "ABCD" {
				t.Errorf("RoomCode = %q, want %q", e.RoomCode, "ABCD")
			}
			if e.PositionSeconds < 0 {
				t.Errorf("PositionSeconds = %d, want >= 0", e.PositionSeconds)
			}
		})
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "abcd", want: "ABCD"},
		{in: "  x9z ", want: "X9Z"},
		{in: "PARTY6", want: "PARTY6"},
		{in: "ab", wantErr: true},
		{in: "toolong", wantErr: true},
		{in: "ab d", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeRoomCode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeRoomCode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeRoomCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeriveSnapshot(t *testing.T) {
	entry := func(id int64, status Status, offset time.Duration) QueueEntry {
		return QueueEntry{ID: id, Status: status, IsPlaying: status == StatusPlaying, CreatedAt: base.Add(offset)}
	}

	t.Run("orders by created at then id", func(t *testing.T) {
		snap := DeriveSnapshot([]QueueEntry{
			entry(3, StatusQueued, 2*time.Second),
			entry(2, StatusQueued, time.Second),
			entry(1, StatusQueued, time.Second),
		})
		var got []int64
		for _, e := range snap.Queue {
			got = append(got, e.ID)
		}
		want := []int64{1, 2, 3}
		if len(got) != len(want) {
			t.Fatalf("queue = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("queue = %v, want %v", got, want)
			}
		}
		if snap.Current != nil {
			t.Errorf("Current = %+v, want nil", snap.Current)
		}
	})

	t.Run("last playing row wins", func(t *testing.T) {
		snap := DeriveSnapshot([]QueueEntry{
			entry(7, StatusPlaying, 3*time.Second),
			entry(4, StatusPlaying, time.Second),
			entry(5, StatusQueued, 2*time.Second),
		})
		if snap.Current == nil || snap.Current.ID != 7 {
			t.Fatalf("Current = %+v, want entry 7", snap.Current)
		}
		if !snap.IsPlaying {
			t.Error("IsPlaying = false, want true")
		}
		if len(snap.Queue) != 1 || snap.Queue[0].ID != 5 {
			t.Errorf("Queue = %+v, want [5]", snap.Queue)
		}
	})

	t.Run("history rows are ignored", func(t *testing.T) {
		snap := DeriveSnapshot([]QueueEntry{entry(1, StatusHistory, 0), entry(2, StatusCancelled, 0)})
		if snap.Current != nil || len(snap.Queue) != 0 {
			t.Errorf("snapshot = %+v, want empty", snap)
		}
	})
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusPlaying, true},
		{StatusPlaying, StatusHistory, true},
		{StatusPlaying, StatusQueued, true},
		{StatusQueued, StatusCancelled, true},
		{StatusHistory, StatusPlaying, false},
		{StatusCancelled, StatusQueued, false},
		{StatusQueued, StatusHistory, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseClockDuration(t *testing.T) {
	tests := map[string]int{
		"3:25":    205,
		"03:05":   185,
		"1:02:03": 3723,
		"":        0,
		"abc":     0,
		"4":       0,
		"1:xx":    0,
	}
	for in, want := range tests {
		if got := ParseClockDuration(in); got != want {
			t.Errorf("ParseClockDuration(%q) = %d, want %d", in, got, want)
		}
	}
}
