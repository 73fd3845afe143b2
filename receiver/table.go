// Package receiver implements the receiver-side transfer engine from
// spec.md §4.4: datagram routing into per-block symbol sets, threshold
// decode, and the control-stream handshake for ID allocation and
// completion negotiation.
package receiver

import (
	"sync"

	"github.com/google/btree"

	"github.com/qft-go/qft/proto"
)

// Task is one receiver-side transfer record, keyed by transfer ID in
// Table. Mirrors the sender-disjoint recv_blocks/rebuilt_blocks pair from
// spec.md §3.
type Task struct {
	mu sync.Mutex

	Filename string
	FileSize uint64

	// recvBlocks maps block index to the set of distinct received symbol
	// payloads for that block, keyed by the payload bytes themselves
	// (Go's map-key byte-equality gives the deduplication spec.md
	// requires without a custom hash).
	recvBlocks map[uint32]map[string][]byte

	// rebuilt is an ordered set of block indices whose decode has
	// succeeded. A btree.BTreeG (the teacher's go.mod ships
	// github.com/google/btree, otherwise unused by this module) keeps
	// the set in ascending order. MissingBlocks probes it once per block
	// index; the merge handler does not read it and concatenates block
	// files by index from 0 to the block count.
	rebuilt *btree.BTreeG[uint32]
}

func newTask(filename string, fileSize uint64) *Task {
	return &Task{
		Filename:   filename,
		FileSize:   fileSize,
		recvBlocks: make(map[uint32]map[string][]byte),
		rebuilt:    btree.NewG[uint32](32, func(a, b uint32) bool { return a < b }),
	}
}

// RebuiltCount returns the number of blocks successfully decoded so far.
func (t *Task) RebuiltCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rebuilt.Len()
}

// IsRebuilt reports whether blockID has already been decoded.
func (t *Task) IsRebuilt(blockID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rebuilt.Has(blockID)
}

// InsertSymbol adds a symbol payload to blockID's pending set unless the
// block is already rebuilt. It reports whether this call newly inserted
// the payload (false for a byte-equal duplicate or an already-rebuilt
// block) and the current size of the pending set.
func (t *Task) InsertSymbol(blockID uint32, payload []byte) (inserted bool, setSize int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rebuilt.Has(blockID) {
		return false, 0
	}
	set, ok := t.recvBlocks[blockID]
	if !ok {
		set = make(map[string][]byte)
		t.recvBlocks[blockID] = set
	}
	key := string(payload)
	if _, exists := set[key]; exists {
		return false, len(set)
	}
	set[key] = payload
	return true, len(set)
}

// SymbolsForDecode returns a snapshot of blockID's pending symbol
// payloads, for handing to fec.Decode without holding the task lock
// across the CPU-bound decode call.
func (t *Task) SymbolsForDecode(blockID uint32) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.recvBlocks[blockID]
	out := make([][]byte, 0, len(set))
	for _, v := range set {
		out = append(out, v)
	}
	return out
}

// MarkRebuilt records blockID as decoded and releases its pending set.
// It is a no-op if blockID was rebuilt concurrently by another goroutine
// (the race the §4.4 concurrency note permits when the lock is released
// around the decode call).
func (t *Task) MarkRebuilt(blockID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rebuilt.ReplaceOrInsert(blockID)
	delete(t.recvBlocks, blockID)
}

// MissingBlocks returns, in ascending order, every block index in
// [0, totalBlocks) not yet rebuilt.
func (t *Task) MissingBlocks(totalBlocks uint32) []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	missing := make([]uint32, 0, totalBlocks)
	for i := uint32(0); i < totalBlocks; i++ {
		if !t.rebuilt.Has(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// Table is the process-wide, mutex-guarded map from transfer ID to Task,
// matching spec.md §3's "receiver task table is shared, process-wide
// state protected by a single mutex".
type Table struct {
	mu    sync.Mutex
	tasks map[proto.TransferID]*Task
}

// NewTable builds an empty task table.
func NewTable() *Table {
	return &Table{tasks: make(map[proto.TransferID]*Task)}
}

// Insert registers a freshly minted transfer.
func (t *Table) Insert(id proto.TransferID, filename string, fileSize uint64) *Task {
	task := newTask(filename, fileSize)
	t.mu.Lock()
	t.tasks[id] = task
	t.mu.Unlock()
	return task
}

// Get looks up a task by transfer ID.
func (t *Table) Get(id proto.TransferID) (*Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	return task, ok
}

// Remove evicts a transfer, releasing its Task and every pending symbol
// set it owns.
func (t *Table) Remove(id proto.TransferID) {
	t.mu.Lock()
	delete(t.tasks, id)
	t.mu.Unlock()
}

// Len reports the number of in-flight transfers, used by tests to assert
// the table is empty once concurrent transfers complete.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
