package fec

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/xssnick/raptorq"
)

// engine is the process-wide RaptorQ instance for SymbolSize. Building it
// is the Go equivalent of the original implementation's once-built
// SourceBlockEncodingPlan:
// every block in every transfer shares this single value instead of
// reconstructing the encoding plan per call.
var engine = raptorq.NewRaptorQ(SymbolSize)

// serializeSymbol embeds the encoding symbol ID (ESI) ahead of the raw
// symbol bytes so the resulting buffer is self-describing on the wire,
// matching the Rust raptorq crate's EncodingPacket.serialize() shape that
// the original protocol relies on. xssnick/raptorq's Go API takes the ESI
// and payload as separate arguments, so qft supplies the framing itself.
func serializeSymbol(esi uint32, data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out[:4], esi)
	copy(out[4:], data)
	return out
}

func deserializeSymbol(b []byte) (esi uint32, data []byte, err error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("fec: symbol too short (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], nil
}

// readBlock seeks to blockID's offset in file and reads up to BlockSize
// bytes into a zero-padded buffer, as required by the tail-padding
// invariant in the spec.
func readBlock(file *os.File, blockID uint32) ([]byte, error) {
	buf := make([]byte, BlockSize)
	off := int64(blockID) * BlockSize
	n, err := file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("fec: read block %d: %w", blockID, err)
	}
	_ = n // remaining bytes stay zero, this is the implicit tail padding
	return buf, nil
}

// Encode reads blockID from file, zero-pads it to BlockSize, and returns
// its source symbols followed by its repair symbols, each serialized for
// transmission as a single UPLOAD_PACKET payload.
//
// This is CPU-bound and must be called from a worker-pool goroutine, not
// directly on an I/O-scheduling goroutine; Encode itself does no
// offloading so callers (the sender's transmitRound) control the dispatch.
func Encode(ctx context.Context, file *os.File, blockID uint32) ([][]byte, error) {
	blockData, err := readBlock(file, blockID)
	if err != nil {
		return nil, err
	}

	enc, err := engine.CreateEncoder(blockData)
	if err != nil {
		return nil, fmt.Errorf("fec: create encoder for block %d: %w", blockID, err)
	}

	symbols := make([][]byte, 0, DataSymbolsPerBlock+RepairSymbolsPerBlock)
	for esi := uint32(0); esi < DataSymbolsPerBlock; esi++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		symbols = append(symbols, serializeSymbol(esi, enc.GenSymbol(esi)))
	}
	for i := 0; i < RepairSymbolsPerBlock; i++ {
		esi := uint32(DataSymbolsPerBlock) + uint32(i)
		symbols = append(symbols, serializeSymbol(esi, enc.GenSymbol(esi)))
	}
	return symbols, nil
}

// Decode attempts to reconstruct blockID from the given (deduplicated)
// symbol payloads, feeding them to the decoder one at a time until
// reconstruction succeeds. On success it writes the decoded bytes,
// truncated to the block's real length given fileSize, to
// transferDir/<blockID>, creating directories as needed.
//
// Returns a wrapped decode-failed error (never a panic, never a partial
// write) when the supplied symbols are insufficient or rank-deficient;
// callers treat that as "try again once more symbols arrive", per spec.
func Decode(ctx context.Context, blockID uint32, fileSize uint64, symbols [][]byte, transferDir string) error {
	_ = ctx
	dec, err := engine.CreateDecoder(BlockSize)
	if err != nil {
		return fmt.Errorf("fec: create decoder for block %d: %w", blockID, err)
	}

	var data []byte
	decoded := false
	for _, raw := range symbols {
		esi, payload, err := deserializeSymbol(raw)
		if err != nil {
			continue // malformed symbol: skip, don't fail the whole attempt
		}
		canTry, err := dec.AddSymbol(esi, payload)
		if err != nil {
			continue // duplicate or invalid ESI: ignore and keep trying others
		}
		if !canTry {
			continue
		}
		ok, result, decErr := dec.Decode()
		if decErr != nil {
			return fmt.Errorf("fec: decode attempt for block %d: %w", blockID, decErr)
		}
		if ok {
			data = result
			decoded = true
			break
		}
	}
	if !decoded {
		return fmt.Errorf("fec: decode_failed for block %d with %d symbols", blockID, len(symbols))
	}

	n := BlockByteLength(blockID, fileSize)
	return writeBlockFile(transferDir, blockID, data[:n])
}
