package proto

import (
	"bytes"
	"testing"
)

func TestFlagRoundTrip(t *testing.T) {
	for _, f := range []Flag{FlagDecodeOK, FlagDecodeError, FlagRequestID, FlagUploadPacket, FlagUploadComplete, FlagHeartbeat} {
		var buf bytes.Buffer
		if err := WriteFlag(&buf, f); err != nil {
			t.Fatalf("WriteFlag(%s): %v", f, err)
		}
		got, err := ReadFlag(&buf)
		if err != nil {
			t.Fatalf("ReadFlag after %s: %v", f, err)
		}
		if got != f {
			t.Fatalf("round trip got %s, want %s", got, f)
		}
	}
}

func TestFlagStringUnknown(t *testing.T) {
	if got := Flag(0x77).String(); got != "UNKNOWN(0x77)" {
		t.Fatalf("String() = %q, want UNKNOWN(0x77)", got)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0xdeadbeef, ^uint32(0)} {
		var buf bytes.Buffer
		if err := WriteUint32(&buf, v); err != nil {
			t.Fatalf("WriteUint32(%d): %v", v, err)
		}
		got, err := ReadUint32(&buf)
		if err != nil {
			t.Fatalf("ReadUint32 after %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip got %d, want %d", got, v)
		}
	}
}

func TestUint64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0x0102030405060708, ^uint64(0)} {
		var buf bytes.Buffer
		if err := WriteUint64(&buf, v); err != nil {
			t.Fatalf("WriteUint64(%d): %v", v, err)
		}
		got, err := ReadUint64(&buf)
		if err != nil {
			t.Fatalf("ReadUint64 after %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip got %d, want %d", got, v)
		}
	}
}

func TestTransferIDRoundTrip(t *testing.T) {
	var id TransferID
	for i := range id {
		id[i] = byte(i * 7)
	}
	var buf bytes.Buffer
	if err := WriteTransferID(&buf, id); err != nil {
		t.Fatalf("WriteTransferID: %v", err)
	}
	got, err := ReadTransferID(&buf)
	if err != nil {
		t.Fatalf("ReadTransferID: %v", err)
	}
	if got != id {
		t.Fatalf("round trip got %x, want %x", got, id)
	}
}

func TestReadToEndTruncatesAtLimit(t *testing.T) {
	buf := bytes.NewBufferString("hello, world")
	got, err := ReadToEnd(buf, 5)
	if err != nil {
		t.Fatalf("ReadToEnd: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("ReadToEnd = %q, want %q", got, "hello")
	}
}

func TestReadToEndShorterThanLimit(t *testing.T) {
	buf := bytes.NewBufferString("hi")
	got, err := ReadToEnd(buf, 1024)
	if err != nil {
		t.Fatalf("ReadToEnd: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("ReadToEnd = %q, want %q", got, "hi")
	}
}

func TestUploadPacketRoundTrip(t *testing.T) {
	var id TransferID
	for i := range id {
		id[i] = byte(0xA0 + i)
	}
	symbol := []byte{1, 2, 3, 4, 5}

	datagram := EncodeUploadPacket(id, 42, symbol)

	gotID, gotBlockID, gotSymbol, err := DecodeUploadPacket(datagram)
	if err != nil {
		t.Fatalf("DecodeUploadPacket: %v", err)
	}
	if gotID != id {
		t.Fatalf("transfer id mismatch: got %x, want %x", gotID, id)
	}
	if gotBlockID != 42 {
		t.Fatalf("block id = %d, want 42", gotBlockID)
	}
	if !bytes.Equal(gotSymbol, symbol) {
		t.Fatalf("symbol = %v, want %v", gotSymbol, symbol)
	}
}

func TestDecodeUploadPacketRejectsShortDatagram(t *testing.T) {
	if _, _, _, err := DecodeUploadPacket([]byte{byte(FlagUploadPacket), 1, 2, 3}); err == nil {
		t.Fatalf("expected error for short datagram")
	}
}

func TestDecodeUploadPacketRejectsWrongFlag(t *testing.T) {
	var id TransferID
	datagram := EncodeUploadPacket(id, 0, []byte{9})
	datagram[0] = byte(FlagHeartbeat)
	if _, _, _, err := DecodeUploadPacket(datagram); err == nil {
		t.Fatalf("expected error for mismatched leading flag")
	}
}
