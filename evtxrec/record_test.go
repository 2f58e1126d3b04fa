package evtxrec

import (
	"errors"
	"testing"
)

// buildRecord lays out a well formed event record: header, payload and the
// trailing copy of the size field
func buildRecord(id uint64, ctime uint64, payload []byte) []byte {
	size := EventRecordHeaderSize + len(payload) + 4
	rec := make([]byte, size)
	copy(rec, EventRecordMagic)
	Endianness.PutUint32(rec[4:], uint32(size))
	Endianness.PutUint64(rec[8:], id)
	Endianness.PutUint64(rec[16:], ctime)
	copy(rec[EventRecordHeaderSize:], payload)
	Endianness.PutUint32(rec[size-4:], uint32(size))
	return rec
}

func TestValidateRecord(t *testing.T) {
	payload := []byte{0x0f, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	buf := buildRecord(42, 0x01d4a2b3c4d5e6f7, payload)

	rec, err := ValidateRecord(buf, 0)
	if err != nil {
		t.Fatalf("validation failed: %s", err)
	}
	if rec.Header.ID != 42 {
		t.Errorf("bad record identifier: %d", rec.Header.ID)
	}
	if rec.Header.CreationTime.Ticks != 0x01d4a2b3c4d5e6f7 {
		t.Errorf("bad creation time: 0x%x", rec.Header.CreationTime.Ticks)
	}
	if rec.PayloadOffset != EventRecordHeaderSize {
		t.Errorf("bad payload offset: %d", rec.PayloadOffset)
	}
	if rec.PayloadLength != len(payload) {
		t.Errorf("bad payload length: %d", rec.PayloadLength)
	}
	if !rec.Header.SizesAgree() {
		t.Errorf("size copies disagree: %d != %d", rec.Header.Size, rec.Header.CopyOfSize)
	}
	t.Log(rec)
}

func TestValidateRecordAtOffset(t *testing.T) {
	payload := make([]byte, 16)
	buf := append(make([]byte, 0x200), buildRecord(1000, 0, payload)...)

	rec, err := ValidateRecord(buf, 0x200)
	if err != nil {
		t.Fatalf("validation failed: %s", err)
	}
	// round-trip bound: payload offset + payload length + trailing copy must
	// land exactly on record start + size
	if rec.PayloadOffset+rec.PayloadLength+4 != rec.Offset+int(rec.Header.Size) {
		t.Errorf("round-trip bound violated: %d + %d + 4 != %d + %d",
			rec.PayloadOffset, rec.PayloadLength, rec.Offset, rec.Header.Size)
	}
}

func TestValidateRecordEmptyPayload(t *testing.T) {
	// header + trailing size copy only, zero payload bytes
	buf := buildRecord(1, 0, nil)
	if len(buf) != 28 {
		t.Fatalf("unexpected record length: %d", len(buf))
	}
	rec, err := ValidateRecord(buf, 0)
	if err != nil {
		t.Fatalf("validation failed: %s", err)
	}
	if rec.PayloadLength != 0 {
		t.Errorf("expected empty payload, got %d bytes", rec.PayloadLength)
	}
}

func TestValidateRecordEmptyBuffer(t *testing.T) {
	if _, err := ValidateRecord(nil, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := ValidateRecord([]byte{}, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestValidateRecordOffsetOutOfBounds(t *testing.T) {
	buf := buildRecord(1, 0, nil)
	if _, err := ValidateRecord(buf, len(buf)); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	if _, err := ValidateRecord(buf, len(buf)+100); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	if _, err := ValidateRecord(buf, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestValidateRecordTooSmall(t *testing.T) {
	// 10 bytes left cannot hold a 24 byte header and the 4 byte size copy
	buf := make([]byte, 10)
	copy(buf, EventRecordMagic)
	if _, err := ValidateRecord(buf, 0); !errors.Is(err, ErrTooSmall) {
		t.Errorf("expected ErrTooSmall, got %v", err)
	}
}

func TestValidateRecordBadSignature(t *testing.T) {
	buf := buildRecord(1, 0, nil)
	buf[0] = 0x2b
	if _, err := ValidateRecord(buf, 0); !errors.Is(err, ErrUnsupportedSignature) {
		t.Errorf("expected ErrUnsupportedSignature, got %v", err)
	}
	// an all zero signature marks unused chunk tail space, it is rejected
	// here like any other value
	zeroes := make([]byte, 64)
	if _, err := ValidateRecord(zeroes, 0); !errors.Is(err, ErrUnsupportedSignature) {
		t.Errorf("expected ErrUnsupportedSignature, got %v", err)
	}
}

func TestValidateRecordBadSize(t *testing.T) {
	for _, size := range []uint32{0, 1, EventRecordHeaderSize - 1} {
		buf := buildRecord(1, 0, make([]byte, 8))
		Endianness.PutUint32(buf[4:], size)
		if _, err := ValidateRecord(buf, 0); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("size %d: expected ErrOutOfBounds, got %v", size, err)
		}
	}
	// declared size of 40 but only 30 bytes remaining
	buf := buildRecord(1, 0, make([]byte, 2))[:30]
	Endianness.PutUint32(buf[4:], 40)
	if _, err := ValidateRecord(buf, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestValidateRecordSizeCopyMismatch(t *testing.T) {
	buf := buildRecord(7, 0, make([]byte, 8))
	Endianness.PutUint32(buf[len(buf)-4:], 0xdeadbeef)
	// a disagreeing trailing copy is surfaced, not fatal, the leading copy
	// stays authoritative
	rec, err := ValidateRecord(buf, 0)
	if err != nil {
		t.Fatalf("validation failed: %s", err)
	}
	if rec.Header.SizesAgree() {
		t.Error("size copies should disagree")
	}
	if rec.Header.CopyOfSize != 0xdeadbeef {
		t.Errorf("bad trailing size copy: 0x%08x", rec.Header.CopyOfSize)
	}
}

func TestRecordPayloadView(t *testing.T) {
	payload := []byte{0x0f, 0x01, 0x01, 0x00, 0x00}
	buf := buildRecord(3, 0, payload)
	rec, err := ValidateRecord(buf, 0)
	if err != nil {
		t.Fatalf("validation failed: %s", err)
	}
	view := rec.Payload(buf)
	if len(view) != len(payload) {
		t.Fatalf("bad payload view length: %d", len(view))
	}
	for i := range payload {
		if view[i] != payload[i] {
			t.Fatalf("payload view differs at byte %d", i)
		}
	}
}
