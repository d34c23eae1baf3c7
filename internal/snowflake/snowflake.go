package snowflake

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"
)

// Epoch is the custom epoch (2023-01-01T00:00:00Z) in unix milliseconds.
// Timestamps inside IDs are milliseconds relative to this instant.
const Epoch = 1672531200000

const (
	timestampBits = 41
	workerBits    = 5
	processBits   = 5
	sequenceBits  = 12

	maxWorker   = (1 << workerBits) - 1
	maxProcess  = (1 << processBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	processShift   = sequenceBits
	workerShift    = sequenceBits + processBits
	timestampShift = sequenceBits + processBits + workerBits
)

// rollbackTolerance is how far the wall clock may step backwards before
// generation is considered unrecoverable. Smaller steps are waited out.
const rollbackTolerance = 50 * time.Millisecond

var (
	ErrClockRollback = errors.New("snowflake: clock moved backwards beyond tolerance")
	ErrBadWorkerID   = errors.New("snowflake: worker id out of range")
	ErrBadProcessID  = errors.New("snowflake: process id out of range")
)

// ID is a 64-bit time-sortable identifier. The zero value is never produced
// by a Node and doubles as "absent" in query bounds.
type ID uint64

// String renders the ID as an unsigned decimal, the wire form used in JSON.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Timestamp returns the creation time encoded in the ID.
func (id ID) Timestamp() time.Time {
	ms := int64(id>>timestampShift) + Epoch
	return time.UnixMilli(ms).UTC()
}

// WorkerID returns the worker id encoded in the ID.
func (id ID) WorkerID() uint64 {
	return (uint64(id) >> workerShift) & maxWorker
}

// ProcessID returns the process id encoded in the ID.
func (id ID) ProcessID() uint64 {
	return (uint64(id) >> processShift) & maxProcess
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse validates and converts a decimal string into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return 0, errors.New("snowflake: empty id")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errors.New("snowflake: id must be numeric")
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.New("snowflake: invalid id")
	}
	if v == 0 {
		return 0, errors.New("snowflake: id must be > 0")
	}
	return ID(v), nil
}

// Node generates IDs for one (worker, process) pair. Output from a single
// node is strictly increasing; nodes with distinct pairs never collide.
type Node struct {
	mu       sync.Mutex
	worker   uint64
	process  uint64
	lastMs   int64
	sequence uint64

	// now is swappable for tests
	now func() time.Time
}

// NewNode constructs a generator. workerID and processID must each fit in
// five bits and together must be unique across concurrently running
// processes; they are supplied by deployment config, never derived here.
func NewNode(workerID, processID uint64) (*Node, error) {
	if workerID > maxWorker {
		return nil, ErrBadWorkerID
	}
	if processID > maxProcess {
		return nil, ErrBadProcessID
	}
	return &Node{
		worker:  workerID,
		process: processID,
		now:     time.Now,
	}, nil
}

// Generate returns the next ID. It is safe for concurrent use. Within one
// millisecond tick the sequence counter increments; when the sequence space
// is exhausted Generate blocks until the next tick. A clock observed moving
// backwards beyond the tolerance returns ErrClockRollback, which is fatal
// for this node: retrying cannot make it safe to emit smaller IDs.
func (n *Node) Generate() (ID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := n.now().UnixMilli() - Epoch
	if ms < n.lastMs {
		behind := time.Duration(n.lastMs-ms) * time.Millisecond
		if behind > rollbackTolerance {
			return 0, ErrClockRollback
		}
		// Small regression (NTP slew): wait for the clock to catch up.
		time.Sleep(behind)
		ms = n.now().UnixMilli() - Epoch
		if ms < n.lastMs {
			return 0, ErrClockRollback
		}
	}

	if ms == n.lastMs {
		n.sequence = (n.sequence + 1) & maxSequence
		if n.sequence == 0 {
			// Sequence exhausted for this tick; spin-sleep to the next one.
			for ms <= n.lastMs {
				time.Sleep(100 * time.Microsecond)
				ms = n.now().UnixMilli() - Epoch
			}
		}
	} else {
		n.sequence = 0
	}
	n.lastMs = ms

	id := uint64(ms)<<timestampShift |
		n.worker<<workerShift |
		n.process<<processShift |
		n.sequence
	return ID(id), nil
}
