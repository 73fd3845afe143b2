// Package proto implements qft's wire framing: the single-byte operation
// tags and fixed-width fields shared by the sender and receiver engines.
package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Flag is a single-byte operation tag that begins every control message
// and every UPLOAD_PACKET datagram.
type Flag byte

const (
	// FlagDecodeOK is the receiver's reply to UPLOAD_COMPLETE when every
	// block has been rebuilt.
	FlagDecodeOK Flag = 0x00
	// FlagDecodeError is the receiver's reply to UPLOAD_COMPLETE when one
	// or more blocks are still missing.
	FlagDecodeError Flag = 0x01
	// FlagRequestID is sent by the sender to mint a transfer identifier.
	FlagRequestID Flag = 0x02
	// FlagUploadPacket tags an unreliable datagram carrying one FEC symbol.
	FlagUploadPacket Flag = 0x04
	// FlagUploadComplete is sent by the sender at the end of a transmit
	// round to ask whether the transfer is done.
	FlagUploadComplete Flag = 0x08
	// FlagHeartbeat is exchanged on its own bidirectional stream,
	// independent of data transfer.
	FlagHeartbeat Flag = 0x80
)

func (f Flag) String() string {
	switch f {
	case FlagDecodeOK:
		return "DECODE_OK"
	case FlagDecodeError:
		return "DECODE_ERROR"
	case FlagRequestID:
		return "REQUEST_ID"
	case FlagUploadPacket:
		return "UPLOAD_PACKET"
	case FlagUploadComplete:
		return "UPLOAD_COMPLETE"
	case FlagHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(f))
	}
}

// TransferID is the 128-bit opaque token the receiver mints on first
// request. It scopes all datagrams and control messages for one upload.
type TransferID [16]byte

func (id TransferID) String() string {
	return fmt.Sprintf("%x", [16]byte(id))
}

// MaxFilenameBytes bounds the REQUEST_ID filename field. Longer filenames
// are silently truncated, matching the original implementation.
const MaxFilenameBytes = 1024

// ReadFlag reads the single leading operation tag from r.
func ReadFlag(r io.Reader) (Flag, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Flag(b[0]), nil
}

// WriteFlag writes a single operation tag to w.
func WriteFlag(w io.Writer, f Flag) error {
	_, err := w.Write([]byte{byte(f)})
	return err
}

// ReadUint32 reads a big-endian u32.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// WriteUint32 writes a big-endian u32.
func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint64 reads a big-endian u64.
func ReadUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// WriteUint64 writes a big-endian u64.
func WriteUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadTransferID reads the raw 16-byte transfer identifier.
func ReadTransferID(r io.Reader) (TransferID, error) {
	var id TransferID
	_, err := io.ReadFull(r, id[:])
	return id, err
}

// WriteTransferID writes the raw 16-byte transfer identifier.
func WriteTransferID(w io.Writer, id TransferID) error {
	_, err := w.Write(id[:])
	return err
}

// ReadToEnd reads up to limit bytes from r and returns them. It never
// returns io.EOF: end-of-stream is the normal termination of a REQUEST_ID
// filename field.
func ReadToEnd(r io.Reader, limit int) ([]byte, error) {
	lr := io.LimitReader(r, int64(limit))
	buf, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeUploadPacket builds the datagram payload for one FEC symbol:
// FLAG_UPLOAD_PACKET | transfer_id | block_id | symbol.
func EncodeUploadPacket(id TransferID, blockID uint32, symbol []byte) []byte {
	out := make([]byte, 0, 1+16+4+len(symbol))
	out = append(out, byte(FlagUploadPacket))
	out = append(out, id[:]...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], blockID)
	out = append(out, b[:]...)
	out = append(out, symbol...)
	return out
}

// DecodeUploadPacket parses a datagram previously built by
// EncodeUploadPacket. It returns plain errors, for a datagram shorter
// than the fixed header or one whose leading flag is not UPLOAD_PACKET;
// classifying them is left to the caller.
func DecodeUploadPacket(datagram []byte) (id TransferID, blockID uint32, symbol []byte, err error) {
	if len(datagram) < 1+16+4 {
		return id, 0, nil, fmt.Errorf("proto: short upload packet (%d bytes)", len(datagram))
	}
	if Flag(datagram[0]) != FlagUploadPacket {
		return id, 0, nil, fmt.Errorf("proto: expected UPLOAD_PACKET, got %s", Flag(datagram[0]))
	}
	copy(id[:], datagram[1:17])
	blockID = binary.BigEndian.Uint32(datagram[17:21])
	symbol = datagram[21:]
	return id, blockID, symbol, nil
}
