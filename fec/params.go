// Package fec implements the RaptorQ block codec: encoding one fixed-size
// file block into source and repair symbols, and decoding a block back
// from a partial, deduplicated set of received symbols.
//
// Grounded on the teacher's fec/raptorq.go wrapper around
// github.com/xssnick/raptorq, generalized from that package's generic
// FECProtector interface to this protocol's fixed block/symbol contract.
package fec

import "math"

// BlockSize is the fixed size of one file block, and the RaptorQ transfer
// length for the single source block each file block is encoded as.
const BlockSize = 1024 * 1024 // 1 MiB

// MaxPacketPayload is the maximum size of one datagram's symbol payload.
const MaxPacketPayload = 1024

// Alignment is the RaptorQ symbol alignment.
const Alignment = 8

// SymbolSize is MaxPacketPayload rounded down to a multiple of Alignment.
const SymbolSize = MaxPacketPayload - MaxPacketPayload%Alignment

// SourceBlocksPerObject and SubBlocks are fixed at 1: each file block is
// its own RaptorQ object with no sub-blocking.
const (
	SourceBlocksPerObject = 1
	SubBlocks             = 1
)

// DataSymbolsPerBlock is the number of source symbols per block.
const DataSymbolsPerBlock = BlockSize / SymbolSize

// ParityRate is the ratio of repair symbols to source symbols the sender
// emits per block.
const ParityRate = 0.1

// RepairSymbolsPerBlock is floor(ParityRate * DataSymbolsPerBlock) = 102.
// The product 102.4 is not an integer constant, so the floor is taken
// with math.Floor and the value is a variable.
var RepairSymbolsPerBlock = int(math.Floor(ParityRate * DataSymbolsPerBlock))

// BlockCount returns the number of blocks a file of fileSize bytes is
// split into: ceil(fileSize/BlockSize), matching
// original_source/src/client/main.rs's literal
// (file_size as f32 / BLOCK_SIZE as f32).ceil(). An empty file yields 0
// blocks, not 1: the sender's missing-block set is then empty, the
// receiver's completion check (RebuiltCount == BlockCount) is trivially
// satisfied with no blocks transmitted, and no round is wasted encoding
// and sending a block that carries no data.
func BlockCount(fileSize uint64) uint32 {
	return uint32((fileSize + BlockSize - 1) / BlockSize)
}

// BlockByteLength returns the number of real (non-padding) bytes that
// belong to blockID within a file of fileSize bytes. The final block may
// be shorter than BlockSize.
func BlockByteLength(blockID uint32, fileSize uint64) int {
	start := uint64(blockID) * BlockSize
	if start >= fileSize {
		return 0
	}
	remaining := fileSize - start
	if remaining > BlockSize {
		return BlockSize
	}
	return int(remaining)
}
