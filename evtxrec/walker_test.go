package evtxrec

import (
	"errors"
	"fmt"
	"testing"
)

// scriptedDecoder replays a fixed sequence of token sizes, one per call
type scriptedDecoder struct {
	sizes []int
	calls int
}

func (d *scriptedDecoder) DecodeToken(chunkData []byte, offset int) (Token, error) {
	if d.calls >= len(d.sizes) {
		return Token{}, fmt.Errorf("no more scripted tokens")
	}
	size := d.sizes[d.calls]
	d.calls++
	return Token{Tag: chunkData[offset], Offset: offset, Size: size}, nil
}

// failingDecoder always reports a decode error
type failingDecoder struct{}

func (failingDecoder) DecodeToken(chunkData []byte, offset int) (Token, error) {
	return Token{}, fmt.Errorf("unreadable byte 0x%02x", chunkData[offset])
}

func TestWalkTokensExactConsumption(t *testing.T) {
	buf := make([]byte, 32)
	dec := &scriptedDecoder{sizes: []int{4, 10, 2, 16}}

	tokens, err := WalkTokens(buf, 0, 32, dec)
	if err != nil {
		t.Fatalf("walk failed: %s", err)
	}
	if len(tokens) != 4 {
		t.Fatalf("expected 4 tokens, got %d", len(tokens))
	}
	// the sum of consumed bytes must equal exactly the payload length
	sum := 0
	for _, tok := range tokens {
		sum += tok.Size
	}
	if sum != 32 {
		t.Errorf("tokens consumed %d bytes out of 32", sum)
	}
}

func TestWalkTokensEmptyPayload(t *testing.T) {
	buf := make([]byte, 32)
	dec := &scriptedDecoder{}

	tokens, err := WalkTokens(buf, 16, 16, dec)
	if err != nil {
		t.Fatalf("walk failed: %s", err)
	}
	if len(tokens) != 0 {
		t.Errorf("expected empty token sequence, got %d tokens", len(tokens))
	}
	if dec.calls != 0 {
		t.Errorf("decoder invoked %d times on empty payload", dec.calls)
	}
}

func TestWalkTokensOverrun(t *testing.T) {
	buf := make([]byte, 32)
	// first token claims one byte more than the payload holds
	dec := &scriptedDecoder{sizes: []int{17}}

	tokens, err := WalkTokens(buf, 0, 16, dec)
	if !errors.Is(err, ErrTokenOverrun) {
		t.Fatalf("expected ErrTokenOverrun, got %v", err)
	}
	if tokens != nil {
		t.Error("no tokens must be returned on overrun")
	}
}

func TestWalkTokensOverrunMidStream(t *testing.T) {
	buf := make([]byte, 32)
	dec := &scriptedDecoder{sizes: []int{8, 4, 8}}

	_, err := WalkTokens(buf, 0, 16, dec)
	if !errors.Is(err, ErrTokenOverrun) {
		t.Fatalf("expected ErrTokenOverrun, got %v", err)
	}
	if dec.calls != 3 {
		t.Errorf("decoder invoked %d times, expected 3", dec.calls)
	}
}

func TestWalkTokensNoProgress(t *testing.T) {
	buf := make([]byte, 32)
	dec := &scriptedDecoder{sizes: []int{4, 0}}

	if _, err := WalkTokens(buf, 0, 16, dec); !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
}

func TestWalkTokensDecodeFailure(t *testing.T) {
	buf := make([]byte, 32)
	tokens, err := WalkTokens(buf, 0, 16, failingDecoder{})
	if !errors.Is(err, ErrTokenDecodeFailed) {
		t.Fatalf("expected ErrTokenDecodeFailed, got %v", err)
	}
	if tokens != nil {
		t.Error("no tokens must be returned on decode failure")
	}
}

func TestWalkTokensBadArguments(t *testing.T) {
	buf := make([]byte, 32)
	if _, err := WalkTokens(buf, 0, 16, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := WalkTokens(buf, 16, 8, &scriptedDecoder{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := WalkTokens(buf, 0, 64, &scriptedDecoder{}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestWalkTokensTermination(t *testing.T) {
	// worst case, every token consumes a single byte: the walk must finish in
	// exactly payload length iterations
	buf := make([]byte, 64)
	sizes := make([]int, 64)
	for i := range sizes {
		sizes[i] = 1
	}
	dec := &scriptedDecoder{sizes: sizes}

	tokens, err := WalkTokens(buf, 0, 64, dec)
	if err != nil {
		t.Fatalf("walk failed: %s", err)
	}
	if len(tokens) != 64 {
		t.Errorf("expected 64 tokens, got %d", len(tokens))
	}
	if dec.calls != 64 {
		t.Errorf("decoder invoked %d times, expected 64", dec.calls)
	}
}

func TestWalkRecord(t *testing.T) {
	// record whose payload is a fragment header followed by EOF
	payload := []byte{FragmentHeaderToken, 0x01, 0x01, 0x00, TokenEOF}
	buf := buildRecord(12, 0, payload)
	rec, err := ValidateRecord(buf, 0)
	if err != nil {
		t.Fatalf("validation failed: %s", err)
	}

	tokens, err := WalkRecord(buf, rec, &BinXMLDecoder{})
	if err != nil {
		t.Fatalf("walk failed: %s", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Tag != FragmentHeaderToken || tokens[1].Tag != TokenEOF {
		t.Errorf("unexpected token tags: %v", tokens)
	}

	if _, err := WalkRecord(buf, nil, &BinXMLDecoder{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDecodeRecordFirstTokenOverrun(t *testing.T) {
	// the fragment header claims 4 bytes but the payload holds only 3, the
	// decoder refuses to read past the record boundary indirectly through
	// the walker overrun check
	payload := []byte{FragmentHeaderToken, 0x01, 0x01}
	buf := buildRecord(1, 0, payload)
	_, tokens, err := DecodeRecord(buf, 0, &scriptedDecoder{sizes: []int{len(payload) + 1}})
	if !errors.Is(err, ErrTokenOverrun) {
		t.Fatalf("expected ErrTokenOverrun, got %v", err)
	}
	if tokens != nil {
		t.Error("no tokens must be returned on overrun")
	}
}
