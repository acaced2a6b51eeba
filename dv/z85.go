package dv

import (
	"github.com/google/uuid"

	"github.com/deltakernel/deltakernel/errs"
)

// z85Alphabet is the standard ZeroMQ Z85 alphabet.
const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

var z85Decode [256]int8

func init() {
	for i := range z85Decode {
		z85Decode[i] = -1
	}
	for i, c := range []byte(z85Alphabet) {
		z85Decode[c] = int8(i)
	}
}

// Z85Encode encodes data (length a multiple of 4) into Z85 text (length a
// multiple of 5), per §4.2.
func Z85Encode(data []byte) (string, error) {
	if len(data)%4 != 0 {
		return "", errs.Validationf("z85: input length %d not a multiple of 4", len(data))
	}
	out := make([]byte, 0, len(data)/4*5)
	for i := 0; i < len(data); i += 4 {
		value := uint32(data[i])<<24 | uint32(data[i+1])<<16 | uint32(data[i+2])<<8 | uint32(data[i+3])
		var chunk [5]byte
		for j := 4; j >= 0; j-- {
			chunk[j] = z85Alphabet[value%85]
			value /= 85
		}
		out = append(out, chunk[:]...)
	}
	return string(out), nil
}

// Z85Decode decodes Z85 text (length a multiple of 5) back into bytes
// (length a multiple of 4), per §4.2.
func Z85Decode(text string) ([]byte, error) {
	if len(text)%5 != 0 {
		return nil, errs.Validationf("z85: input length %d not a multiple of 5", len(text))
	}
	out := make([]byte, 0, len(text)/5*4)
	for i := 0; i < len(text); i += 5 {
		var value uint32
		for j := 0; j < 5; j++ {
			c := text[i+j]
			d := z85Decode[c]
			if d < 0 {
				return nil, errs.Validationf("z85: invalid character %q", c)
			}
			value = value*85 + uint32(d)
		}
		out = append(out, byte(value>>24), byte(value>>16), byte(value>>8), byte(value))
	}
	return out, nil
}

// EncodeUUID renders a UUID as 20 Z85 characters (16 bytes -> 20 chars).
func EncodeUUID(id uuid.UUID) (string, error) {
	return Z85Encode(id[:])
}

// DecodeUUID parses 20 Z85 characters back into a uuid.UUID, whose String()
// renders the canonical 8-4-4-4-12 hex form.
func DecodeUUID(z85 string) (uuid.UUID, error) {
	if len(z85) != 20 {
		return uuid.UUID{}, errs.Validationf("z85: uuid must be 20 characters, got %d", len(z85))
	}
	raw, err := Z85Decode(z85)
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], raw)
	return id, nil
}
