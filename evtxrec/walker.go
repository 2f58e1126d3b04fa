package evtxrec

import (
	"fmt"
)

////////////////////////////////// Token ///////////////////////////////////////

// Token is one structurally decoded unit of a binary XML stream. Size is the
// exact number of bytes of the chunk buffer the token occupies, including any
// nested substructure. Offset is relative to the start of the chunk buffer.
type Token struct {
	Tag    uint8
	Offset int
	Size   int
}

func (t Token) String() string {
	return fmt.Sprintf("Token 0x%02x @ 0x%08x (%d bytes)", t.Tag, t.Offset, t.Size)
}

// TokenDecoder decodes one token at offset in chunkData. A conforming
// implementation never reads past the end of chunkData, reports in Token.Size
// the exact number of bytes consumed and fails rather than guess when the byte
// at offset does not match any recognized token tag.
type TokenDecoder interface {
	DecodeToken(chunkData []byte, offset int) (Token, error)
}

////////////////////////////////// Walker //////////////////////////////////////

// WalkTokens decodes the token stream between payloadOffset and payloadEnd,
// one token at a time, and returns the decoded sequence in stream order.
//
// The walk succeeds only when the cursor lands exactly on payloadEnd. Any
// anomaly (decoder failure, zero length token, token claiming bytes past
// payloadEnd) aborts the walk, no partial sequence is ever returned with a
// nil error.
func WalkTokens(chunkData []byte, payloadOffset, payloadEnd int, dec TokenDecoder) ([]Token, error) {
	if dec == nil {
		return nil, fmt.Errorf("%w: nil token decoder", ErrInvalidArgument)
	}
	if payloadOffset < 0 || payloadOffset > payloadEnd {
		return nil, fmt.Errorf("%w: payload range [0x%08x, 0x%08x)",
			ErrInvalidArgument, payloadOffset, payloadEnd)
	}
	if payloadEnd > len(chunkData) {
		return nil, fmt.Errorf("%w: payload end 0x%08x in chunk of %d bytes",
			ErrOutOfBounds, payloadEnd, len(chunkData))
	}
	tokens := make([]Token, 0)
	// cursor strictly increases every iteration so the loop runs at most
	// payloadEnd-payloadOffset times
	for cursor := payloadOffset; cursor < payloadEnd; {
		tok, err := dec.DecodeToken(chunkData, cursor)
		if err != nil {
			return nil, fmt.Errorf("%w at offset 0x%08x: %s", ErrTokenDecodeFailed, cursor, err)
		}
		if tok.Size <= 0 {
			return nil, fmt.Errorf("%w: token 0x%02x reported %d bytes at offset 0x%08x",
				ErrNoProgress, tok.Tag, tok.Size, cursor)
		}
		if tok.Size > payloadEnd-cursor {
			return nil, fmt.Errorf("%w: token 0x%02x of %d bytes at offset 0x%08x, %d bytes authorized",
				ErrTokenOverrun, tok.Tag, tok.Size, cursor, payloadEnd-cursor)
		}
		cursor += tok.Size
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// WalkRecord walks the binary XML payload of a validated event record
func WalkRecord(chunkData []byte, rec *EventRecord, dec TokenDecoder) ([]Token, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil event record", ErrInvalidArgument)
	}
	return WalkTokens(chunkData, rec.PayloadOffset, rec.PayloadEnd(), dec)
}

// DecodeRecord validates the event record at offset in chunkData and walks its
// binary XML payload in one call
func DecodeRecord(chunkData []byte, offset int, dec TokenDecoder) (*EventRecord, []Token, error) {
	rec, err := ValidateRecord(chunkData, offset)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := WalkRecord(chunkData, rec, dec)
	if err != nil {
		return nil, nil, err
	}
	return rec, tokens, nil
}
