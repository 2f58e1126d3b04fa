package evtxrec

import (
	"fmt"
)

///////////////////////////// ErrUnknownToken //////////////////////////////////

type ErrUnknownToken struct {
	Token uint8
}

func (e ErrUnknownToken) Error() string {
	return fmt.Sprintf("unknown token: 0x%02x", e.Token)
}

///////////////////////////// BinXMLDecoder ////////////////////////////////////

// BinXMLDecoder is a structural binary XML token decoder. It computes the
// byte span of one token at a time without building the document tree, every
// multi byte read is bounds checked against the chunk buffer first.
//
// It satisfies the TokenDecoder contract expected by WalkTokens: it never
// reads past the end of chunkData, reports exact consumed sizes including
// nested substructure and fails on unrecognized token tags.
type BinXMLDecoder struct {
	// InsideTemplate indicates that element start tokens carry a two byte
	// dependency identifier, which is only the case within a template
	// definition
	InsideTemplate bool
}

// need fails with ErrOutOfBounds unless n bytes are available at offset
func need(chunkData []byte, offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(chunkData) {
		return fmt.Errorf("%w: %d bytes needed at offset 0x%08x in chunk of %d bytes",
			ErrOutOfBounds, n, offset, len(chunkData))
	}
	return nil
}

// nameSize returns the byte span of a Name structure located at offset
// (prev string offset + hash + character count + UTF-16 string + terminator)
func nameSize(chunkData []byte, offset int) (int, error) {
	if err := need(chunkData, offset, 8); err != nil {
		return 0, err
	}
	numChars := int(Endianness.Uint16(chunkData[offset+6:]))
	size := 8 + 2*(numChars+1)
	if err := need(chunkData, offset, size); err != nil {
		return 0, err
	}
	return size, nil
}

// namedTokenSize computes the span of a token made of the tag byte, a chunk
// relative name offset and, when the name is stored inline right after the
// offset field, the name structure itself. Names stored elsewhere in the
// chunk (string table interning) do not contribute to the token span.
func namedTokenSize(chunkData []byte, offset int) (int, error) {
	if err := need(chunkData, offset, 5); err != nil {
		return 0, err
	}
	nameOffset := int(Endianness.Uint32(chunkData[offset+1:]))
	if nameOffset != offset+5 {
		return 5, nil
	}
	ns, err := nameSize(chunkData, nameOffset)
	if err != nil {
		return 0, err
	}
	return 5 + ns, nil
}

// textTokenSize computes the span of a token made of the tag byte followed by
// a UnicodeTextString (character count + UTF-16 characters)
func textTokenSize(chunkData []byte, offset int) (int, error) {
	if err := need(chunkData, offset, 3); err != nil {
		return 0, err
	}
	numChars := int(Endianness.Uint16(chunkData[offset+1:]))
	size := 3 + 2*numChars
	if err := need(chunkData, offset, size); err != nil {
		return 0, err
	}
	return size, nil
}

// DecodeToken implements TokenDecoder
func (d *BinXMLDecoder) DecodeToken(chunkData []byte, offset int) (Token, error) {
	if err := need(chunkData, offset, 1); err != nil {
		return Token{}, err
	}
	tok := Token{Tag: chunkData[offset], Offset: offset}
	var err error
	switch tok.Tag {
	case TokenEOF, TokenCloseStartElementTag, TokenCloseEmptyElementTag, TokenEndElementTag:
		tok.Size = 1
	case FragmentHeaderToken:
		// token + major version + minor version + flags
		err = need(chunkData, offset, 4)
		tok.Size = 4
	case TokenOpenStartElementTag1, TokenOpenStartElementTag2:
		tok.Size, err = d.elementSize(chunkData, offset)
	case TokenValue1, TokenValue2:
		tok.Size, err = d.valueTextSize(chunkData, offset)
	case TokenAttribute1, TokenAttribute2:
		tok.Size, err = namedTokenSize(chunkData, offset)
	case TokenCDataSection1, TokenCDataSection2, TokenPIData:
		tok.Size, err = textTokenSize(chunkData, offset)
	case TokenCharRef1, TokenCharRef2:
		// token + character value
		err = need(chunkData, offset, 3)
		tok.Size = 3
	case TokenEntityRef1, TokenEntityRef2, TokenPITarget:
		tok.Size, err = namedTokenSize(chunkData, offset)
	case TokenNormalSubstitution, TokenOptionalSubstitution:
		// token + substitution identifier + value type
		err = need(chunkData, offset, 4)
		tok.Size = 4
	case TokenTemplateInstance:
		tok.Size, err = d.templateInstanceSize(chunkData, offset)
	default:
		return Token{}, ErrUnknownToken{tok.Tag}
	}
	if err != nil {
		return Token{}, err
	}
	return tok, nil
}

// elementSize computes the span of an element start token. The element data
// size field counts everything after itself up to and including the matching
// end token, excluding only the tag, the dependency identifier and the size
// field, so attributes and nested children are covered by the span.
func (d *BinXMLDecoder) elementSize(chunkData []byte, offset int) (int, error) {
	hdr := 5
	if d.InsideTemplate {
		hdr = 7
	}
	if err := need(chunkData, offset, hdr); err != nil {
		return 0, err
	}
	dataSize := int(Endianness.Uint32(chunkData[offset+hdr-4:]))
	if dataSize > MaxSliceSize {
		return 0, fmt.Errorf("%w: element data size %d at offset 0x%08x",
			ErrOutOfBounds, dataSize, offset)
	}
	size := hdr + dataSize
	if err := need(chunkData, offset, size); err != nil {
		return 0, err
	}
	return size, nil
}

// valueTextSize computes the span of a value text token. Only the UTF-16
// string type is defined for value text, anything else is refused instead of
// guessed at.
func (d *BinXMLDecoder) valueTextSize(chunkData []byte, offset int) (int, error) {
	if err := need(chunkData, offset, 4); err != nil {
		return 0, err
	}
	if valType := chunkData[offset+1]; valType != StringType {
		return 0, fmt.Errorf("bad value text type 0x%02x, must be 0x%02x StringType",
			valType, StringType)
	}
	numChars := int(Endianness.Uint16(chunkData[offset+2:]))
	size := 4 + 2*numChars
	if err := need(chunkData, offset, size); err != nil {
		return 0, err
	}
	return size, nil
}

// templateInstanceSize computes the span of a template instance token: the
// instance header, the template definition when it is resident at this
// position and the substitution value descriptors and data
func (d *BinXMLDecoder) templateInstanceSize(chunkData []byte, offset int) (int, error) {
	// token + unknown + template identifier + definition data offset
	if err := need(chunkData, offset, 10); err != nil {
		return 0, err
	}
	defOffset := int(Endianness.Uint32(chunkData[offset+6:]))
	cursor := offset + 10
	if defOffset == cursor {
		// Resident definition: next definition offset + GUID + data size,
		// then the definition fragment itself
		if err := need(chunkData, cursor, 24); err != nil {
			return 0, err
		}
		defSize := int(Endianness.Uint32(chunkData[cursor+20:]))
		if defSize > MaxSliceSize {
			return 0, fmt.Errorf("%w: template definition size %d at offset 0x%08x",
				ErrOutOfBounds, defSize, cursor)
		}
		if err := need(chunkData, cursor, 24+defSize); err != nil {
			return 0, err
		}
		cursor += 24 + defSize
	}
	// Substitution values: count + one descriptor per value + value data
	if err := need(chunkData, cursor, 4); err != nil {
		return 0, err
	}
	numValues := int(Endianness.Uint32(chunkData[cursor:]))
	if numValues > MaxSliceSize {
		return 0, fmt.Errorf("%w: %d substitution values at offset 0x%08x",
			ErrOutOfBounds, numValues, cursor)
	}
	cursor += 4
	if err := need(chunkData, cursor, 4*numValues); err != nil {
		return 0, err
	}
	valuesSize := 0
	for i := 0; i < numValues; i++ {
		valuesSize += int(Endianness.Uint16(chunkData[cursor+4*i:]))
	}
	cursor += 4 * numValues
	if err := need(chunkData, cursor, valuesSize); err != nil {
		return 0, err
	}
	cursor += valuesSize
	return cursor - offset, nil
}
