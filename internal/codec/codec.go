package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// IDSize is the encoded width of one identifier.
const IDSize = 8

// ErrMalformed is returned when a payload is not a whole number of records.
var ErrMalformed = errors.New("malformed payload")

// EncodeIDs concatenates ids as big-endian uint64s in input order.
func EncodeIDs(ids []uint64) []byte {
	buf := make([]byte, 0, len(ids)*IDSize)
	for _, id := range ids {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	return buf
}

// DecodeIDs is the inverse of EncodeIDs.
func DecodeIDs(data []byte) ([]uint64, error) {
	if len(data)%IDSize != 0 {
		return nil, fmt.Errorf("decode ids: length %d is not a multiple of %d: %w", len(data), IDSize, ErrMalformed)
	}
	ids := make([]uint64, 0, len(data)/IDSize)
	for i := 0; i < len(data); i += IDSize {
		ids = append(ids, binary.BigEndian.Uint64(data[i:]))
	}
	return ids, nil
}

// EncodePairings writes one record per pairing, in slice order.
func EncodePairings(p Pairings) []byte {
	size := 0
	for _, pairing := range p {
		size += IDSize * (len(pairing.Taggables) + 2)
	}
	buf := make([]byte, 0, size)
	for _, pairing := range p {
		buf = binary.BigEndian.AppendUint64(buf, pairing.Tag)
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(pairing.Taggables)))
		for _, taggable := range pairing.Taggables {
			buf = binary.BigEndian.AppendUint64(buf, taggable)
		}
	}
	return buf
}

// DecodePairings parses a concatenation of pairing records.
// A record with count 0 decodes to a pairing with an empty, non-nil
// taggable slice.
func DecodePairings(data []byte) (Pairings, error) {
	if len(data)%IDSize != 0 {
		return nil, fmt.Errorf("decode pairings: length %d is not a multiple of %d: %w", len(data), IDSize, ErrMalformed)
	}
	var out Pairings
	for i := 0; i < len(data); {
		if len(data)-i < 2*IDSize {
			return nil, fmt.Errorf("decode pairings: truncated header at offset %d: %w", i, ErrMalformed)
		}
		tag := binary.BigEndian.Uint64(data[i:])
		count := binary.BigEndian.Uint64(data[i+IDSize:])
		i += 2 * IDSize

		remaining := uint64(len(data)-i) / IDSize
		if count > remaining {
			return nil, fmt.Errorf("decode pairings: tag %d claims %d taggables, %d available: %w", tag, count, remaining, ErrMalformed)
		}
		taggables := make([]uint64, count)
		for j := range taggables {
			taggables[j] = binary.BigEndian.Uint64(data[i:])
			i += IDSize
		}
		out = append(out, Pairing{Tag: tag, Taggables: taggables})
	}
	return out, nil
}
