package fec

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "qft-fec-*")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestEncodeDecodeRoundTripNoLoss(t *testing.T) {
	data := make([]byte, BlockSize)
	rand.New(rand.NewSource(1)).Read(data)
	f := writeTempFile(t, data)

	symbols, err := Encode(context.Background(), f, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wantTotal := DataSymbolsPerBlock + RepairSymbolsPerBlock
	if len(symbols) != wantTotal {
		t.Fatalf("got %d symbols, want %d", len(symbols), wantTotal)
	}

	dir := filepath.Join(t.TempDir(), "xfer")
	if err := Decode(context.Background(), 0, uint64(len(data)), symbols, dir); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := os.ReadFile(BlockFilePath(dir, 0))
	if err != nil {
		t.Fatalf("read decoded block: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("decoded block does not match source")
	}
}

func TestDecodeToleratesLoss(t *testing.T) {
	data := make([]byte, BlockSize)
	rand.New(rand.NewSource(2)).Read(data)
	f := writeTempFile(t, data)

	symbols, err := Encode(context.Background(), f, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r := rand.New(rand.NewSource(3))
	var received [][]byte
	for _, s := range symbols {
		if r.Float64() < 0.08 { // drop 8%, below the 10% parity budget
			continue
		}
		received = append(received, s)
	}

	dir := filepath.Join(t.TempDir(), "xfer")
	if err := Decode(context.Background(), 0, uint64(len(data)), received, dir); err != nil {
		t.Fatalf("Decode with loss: %v", err)
	}
	got, err := os.ReadFile(BlockFilePath(dir, 0))
	if err != nil {
		t.Fatalf("read decoded block: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("decoded block does not match source after loss")
	}
}

func TestDecodeFailsWithTooFewSymbols(t *testing.T) {
	data := make([]byte, BlockSize)
	f := writeTempFile(t, data)

	symbols, err := Encode(context.Background(), f, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "xfer")
	err = Decode(context.Background(), 0, uint64(len(data)), symbols[:DataSymbolsPerBlock/2], dir)
	if err == nil {
		t.Fatalf("expected decode_failed with half the symbols, got success")
	}
}

func TestIdempotentReReceiptDoesNotChangeSet(t *testing.T) {
	// Byte-equal duplicate symbols collapse under set semantics: inserting
	// the same serialized symbol into a map keyed by its bytes twice
	// leaves the set size unchanged.
	set := make(map[string]struct{})
	sym := serializeSymbol(5, []byte("same-bytes"))
	set[string(sym)] = struct{}{}
	before := len(set)
	set[string(sym)] = struct{}{}
	if len(set) != before {
		t.Fatalf("duplicate symbol changed set size: before=%d after=%d", before, len(set))
	}
}

func TestBlockByteLengthTailTruncation(t *testing.T) {
	fileSize := uint64(BlockSize + 123)
	if got := BlockByteLength(0, fileSize); got != BlockSize {
		t.Fatalf("block 0 length = %d, want %d", got, BlockSize)
	}
	if got := BlockByteLength(1, fileSize); got != 123 {
		t.Fatalf("block 1 length = %d, want 123", got)
	}
	if got := BlockCount(fileSize); got != 2 {
		t.Fatalf("block count = %d, want 2", got)
	}
}
