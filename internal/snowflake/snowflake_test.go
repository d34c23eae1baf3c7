package snowflake

import (
	"sync"
	"testing"
	"time"
)

func TestNewNode_RejectsOutOfRangeIDs(t *testing.T) {
	if _, err := NewNode(32, 0); err != ErrBadWorkerID {
		t.Errorf("expected ErrBadWorkerID, got %v", err)
	}
	if _, err := NewNode(0, 32); err != ErrBadProcessID {
		t.Errorf("expected ErrBadProcessID, got %v", err)
	}
	if _, err := NewNode(31, 31); err != nil {
		t.Errorf("expected max ids to be accepted, got %v", err)
	}
}

func TestGenerate_Monotonic(t *testing.T) {
	n, err := NewNode(1, 1)
	if err != nil {
		t.Fatal(err)
	}

	var prev ID
	for i := 0; i < 10000; i++ {
		id, err := n.Generate()
		if err != nil {
			t.Fatalf("generate failed at %d: %v", i, err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d at iteration %d", id, prev, i)
		}
		prev = id
	}
}

func TestGenerate_UniqueAcrossNodes(t *testing.T) {
	pairs := [][2]uint64{{0, 0}, {0, 1}, {1, 0}, {3, 7}}
	const perNode = 5000

	var mu sync.Mutex
	seen := make(map[ID]struct{}, len(pairs)*perNode)

	var wg sync.WaitGroup
	for _, p := range pairs {
		n, err := NewNode(p[0], p[1])
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			local := make([]ID, 0, perNode)
			for i := 0; i < perNode; i++ {
				id, err := n.Generate()
				if err != nil {
					t.Errorf("generate failed: %v", err)
					return
				}
				local = append(local, id)
			}
			mu.Lock()
			for _, id := range local {
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}(n)
	}
	wg.Wait()

	if len(seen) != len(pairs)*perNode {
		t.Errorf("expected %d distinct ids, got %d", len(pairs)*perNode, len(seen))
	}
}

func TestGenerate_ClockRollbackIsFatal(t *testing.T) {
	n, err := NewNode(1, 2)
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	n.now = func() time.Time { return base }
	if _, err := n.Generate(); err != nil {
		t.Fatal(err)
	}

	// Step the clock back well past the tolerance.
	n.now = func() time.Time { return base.Add(-time.Second) }
	if _, err := n.Generate(); err != ErrClockRollback {
		t.Errorf("expected ErrClockRollback, got %v", err)
	}
}

func TestGenerate_SmallRollbackWaitedOut(t *testing.T) {
	n, err := NewNode(1, 2)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	n.now = func() time.Time { return time.Now() }
	first, err := n.Generate()
	if err != nil {
		t.Fatal(err)
	}

	// 10ms backwards is within tolerance; the node should wait and still
	// emit a larger id.
	n.now = func() time.Time { return time.Now().Add(-10 * time.Millisecond) }
	second, err := n.Generate()
	if err != nil {
		t.Fatalf("expected small rollback to be absorbed, got %v", err)
	}
	if second <= first {
		t.Errorf("id %d not greater than %d after rollback wait", second, first)
	}
	if time.Since(start) > time.Second {
		t.Errorf("rollback wait took unreasonably long")
	}
}

func TestID_FieldExtraction(t *testing.T) {
	n, err := NewNode(5, 9)
	if err != nil {
		t.Fatal(err)
	}
	before := time.Now().Add(-time.Second)
	id, err := n.Generate()
	if err != nil {
		t.Fatal(err)
	}

	if id.WorkerID() != 5 {
		t.Errorf("worker id = %d, want 5", id.WorkerID())
	}
	if id.ProcessID() != 9 {
		t.Errorf("process id = %d, want 9", id.ProcessID())
	}
	ts := id.Timestamp()
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("timestamp %v not near now", ts)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", "175928847299117063", false},
		{"empty", "", true},
		{"zero", "0", true},
		{"non numeric", "12ab34", true},
		{"negative", "-5", true},
		{"overflow", "99999999999999999999999", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestID_JSONRoundTrip(t *testing.T) {
	id := ID(175928847299117063)
	b, err := id.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"175928847299117063"` {
		t.Errorf("marshaled as %s, want quoted decimal string", b)
	}

	var back ID
	if err := back.UnmarshalJSON(b); err != nil {
		t.Fatal(err)
	}
	if back != id {
		t.Errorf("round trip produced %d, want %d", back, id)
	}
}
