package receiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quic-go/quic-go"

	"github.com/qft-go/qft/fec"
	"github.com/qft-go/qft/logger"
	"github.com/qft-go/qft/progress"
	"github.com/qft-go/qft/proto"
	"github.com/qft-go/qft/workerpool"
)

type recordingSink struct {
	events []progress.Event
}

func (s *recordingSink) Report(e progress.Event) { s.events = append(s.events, e) }

func (s *recordingSink) countByStatus(status progress.Status) int {
	n := 0
	for _, e := range s.events {
		if e.Status == status {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T) (*Engine, *recordingSink) {
	t.Helper()
	base := t.TempDir()
	sink := &recordingSink{}
	e := NewEngine(
		filepath.Join(base, "tmp"),
		filepath.Join(base, "recv"),
		sink,
		logger.New(logger.LevelSilent, ""),
		workerpool.New(1),
	)
	return e, sink
}

// TestDuplicateSymbolFlood replays the same encoded symbol set for one
// block three times, matching spec.md §8 scenario 7. The block must
// decode exactly once and further replays must not trigger another
// decode attempt.
func TestDuplicateSymbolFlood(t *testing.T) {
	e, sink := newTestEngine(t)

	data := make([]byte, fec.BlockSize)
	for i := range data {
		data[i] = byte(i)
	}
	srcPath := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	f, err := os.Open(srcPath)
	if err != nil {
		t.Fatalf("open source file: %v", err)
	}
	defer f.Close()

	symbols, err := fec.Encode(context.Background(), f, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sourceSymbols := symbols[:fec.DataSymbolsPerBlock]

	var id proto.TransferID
	copy(id[:], []byte("duplicate-flood-id"))
	task := e.Table.Insert(id, "src.bin", uint64(len(data)))

	for round := 0; round < 3; round++ {
		for _, s := range sourceSymbols {
			datagram := proto.EncodeUploadPacket(id, 0, s)
			e.handleDatagram(context.Background(), datagram, "test")
		}
	}

	if got := task.RebuiltCount(); got != 1 {
		t.Fatalf("RebuiltCount = %d, want 1", got)
	}
	if got := sink.countByStatus(progress.StatusReceiving); got != 1 {
		t.Fatalf("decode reported %d times, want exactly 1 (no duplicate decode on replay)", got)
	}

	got, err := os.ReadFile(fec.BlockFilePath(filepath.Join(e.TmpDir, id.String()), 0))
	if err != nil {
		t.Fatalf("read decoded block: %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("decoded block length = %d, want %d", len(got), len(data))
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("decoded block content mismatch at byte %d", i)
			break
		}
	}
}

// TestRouteFlagUnknownReachesNoHandler covers spec.md §8 scenario 6's
// "no task is created" guarantee: an unrecognized flag byte must route
// to neither the REQUEST_ID, UPLOAD_COMPLETE, nor HEARTBEAT handler.
func TestRouteFlagUnknownReachesNoHandler(t *testing.T) {
	if got := routeFlag(proto.Flag(0x77)); got != routeUnknown {
		t.Fatalf("routeFlag(0x77) = %v, want routeUnknown", got)
	}
	for _, known := range []proto.Flag{proto.FlagRequestID, proto.FlagUploadComplete, proto.FlagHeartbeat} {
		if got := routeFlag(known); got == routeUnknown {
			t.Fatalf("routeFlag(%s) unexpectedly routed to routeUnknown", known)
		}
	}
}

type fakeCancelStream struct {
	writeCanceled, readCanceled bool
}

func (f *fakeCancelStream) CancelWrite(code quic.StreamErrorCode) { f.writeCanceled = true }
func (f *fakeCancelStream) CancelRead(code quic.StreamErrorCode)  { f.readCanceled = true }

// TestRejectUnknownFlagCancelsBothDirections covers the other half of
// spec.md §8 scenario 6: the receiver closes the offending stream (both
// read and write sides) rather than leaving it open.
func TestRejectUnknownFlagCancelsBothDirections(t *testing.T) {
	f := &fakeCancelStream{}
	rejectUnknownFlag(f)
	if !f.writeCanceled {
		t.Fatalf("expected write side cancelled")
	}
	if !f.readCanceled {
		t.Fatalf("expected read side cancelled")
	}
}
