package otp

import "strings"

// RFC 4648 alphabet. Encoding emits no padding; decoding is case-insensitive
// and skips characters outside the alphabet (including padding).
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

var base32Reverse = func() [256]int8 {
	var m [256]int8
	for i := range m {
		m[i] = -1
	}
	for i := 0; i < len(base32Alphabet); i++ {
		m[base32Alphabet[i]] = int8(i)
	}
	return m
}()

// EncodeBase32 encodes src without padding.
func EncodeBase32(src []byte) string {
	var b strings.Builder
	b.Grow((len(src)*8 + 4) / 5)
	var value uint32
	bits := 0
	for _, c := range src {
		value = value<<8 | uint32(c)
		bits += 8
		for bits >= 5 {
			b.WriteByte(base32Alphabet[(value>>(uint(bits)-5))&31])
			bits -= 5
		}
	}
	if bits > 0 {
		b.WriteByte(base32Alphabet[(value<<(5-uint(bits)))&31])
	}
	return b.String()
}

// DecodeBase32 decodes s, tolerating lower case and ignoring characters that
// are not part of the alphabet.
func DecodeBase32(s string) []byte {
	out := make([]byte, 0, len(s)*5/8)
	var value uint32
	bits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		v := base32Reverse[c]
		if v < 0 {
			continue
		}
		value = value<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			out = append(out, byte((value>>(uint(bits)-8))&0xff))
			bits -= 8
		}
	}
	return out
}
