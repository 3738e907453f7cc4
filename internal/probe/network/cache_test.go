package network

import (
	"testing"
	"time"
)

func TestCache_UpdateRetainsPayloadSnapshotForExistingKey(t *testing.T) {
	c := NewCache()
	base := time.Now().UTC()

	c.Update([]Row{{PID: 1, LocalAddr: "10.0.0.1", LocalPort: 1234, RemoteAddr: "1.2.3.4", RemotePort: 443,
		LastObserved: base, PayloadSnapshot: "tcp4 10.0.0.1:1234 -> 1.2.3.4:443 proc=curl cmd=curl https://x"}})

	got := c.Update([]Row{{PID: 1, LocalAddr: "10.0.0.1", LocalPort: 1234, RemoteAddr: "1.2.3.4", RemotePort: 443,
		LastObserved: base.Add(time.Second), PayloadSnapshot: ""}})

	if len(got) != 1 {
		t.Fatalf("Update = %d rows, want 1", len(got))
	}
	if got[0].PayloadSnapshot == "" {
		t.Fatal("expected the existing entry's payload_snapshot to be retained across cycles")
	}
}

func TestCache_UpdateEvictsKeysNotSeen(t *testing.T) {
	c := NewCache()
	c.Update([]Row{
		{PID: 1, LocalAddr: "a", RemoteAddr: "b", LastObserved: time.Now()},
		{PID: 2, LocalAddr: "c", RemoteAddr: "d", LastObserved: time.Now()},
	})

	c.Update([]Row{{PID: 1, LocalAddr: "a", RemoteAddr: "b", LastObserved: time.Now()}})

	snap := c.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot = %d rows after eviction, want 1", len(snap))
	}
	if snap[0].PID != 1 {
		t.Fatalf("surviving row PID = %d, want 1", snap[0].PID)
	}
}

func TestCache_SnapshotOrdersByLastObservedDescending(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()
	c.Update([]Row{
		{PID: 1, RemoteAddr: "a", LastObserved: now},
		{PID: 2, RemoteAddr: "b", LastObserved: now.Add(time.Minute)},
		{PID: 3, RemoteAddr: "c", LastObserved: now.Add(-time.Minute)},
	})

	got := c.Snapshot()
	want := []int{2, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("Snapshot = %d rows, want %d", len(got), len(want))
	}
	for i, pid := range want {
		if got[i].PID != pid {
			t.Fatalf("Snapshot[%d].PID = %d, want %d (order %v)", i, got[i].PID, pid, got)
		}
	}
}

func TestCache_SnapshotCapsAt25(t *testing.T) {
	c := NewCache()
	rows := make([]Row, 0, 30)
	now := time.Now().UTC()
	for i := 0; i < 30; i++ {
		rows = append(rows, Row{PID: i, RemoteAddr: "x", RemotePort: uint16(i), LastObserved: now.Add(time.Duration(i) * time.Second)})
	}
	c.Update(rows)

	got := c.Snapshot()
	if len(got) != 25 {
		t.Fatalf("Snapshot = %d rows, want 25", len(got))
	}
	// Highest i has the latest LastObserved, so the cap should keep the
	// 25 most recently observed rows (i == 5..29).
	if got[0].PID != 29 {
		t.Fatalf("Snapshot[0].PID = %d, want 29 (most recent)", got[0].PID)
	}
}
