package totp

import "strings"

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

var base32Lookup = func() [256]int8 {
	var table [256]int8
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < len(base32Alphabet); i++ {
		c := base32Alphabet[i]
		table[c] = int8(i)
		if c >= 'A' && c <= 'Z' {
			table[c+('a'-'A')] = int8(i)
		}
	}
	return table
}()

// EncodeBase32 encodes data with the RFC 4648 alphabet and no padding. Leftover
// bits of the final symbol are zero-filled.
func EncodeBase32(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow((len(data)*8 + 4) / 5)

	var buffer uint32
	bits := 0
	for _, c := range data {
		buffer = buffer<<8 | uint32(c)
		bits += 8
		for bits >= 5 {
			b.WriteByte(base32Alphabet[(buffer>>uint(bits-5))&0x1f])
			bits -= 5
		}
	}
	if bits > 0 {
		b.WriteByte(base32Alphabet[(buffer<<uint(5-bits))&0x1f])
	}

	return b.String()
}

// DecodeBase32 reverses EncodeBase32. Decoding is tolerant: "=" padding,
// whitespace and any other character outside the alphabet are skipped, and
// lowercase letters are accepted.
func DecodeBase32(s string) []byte {
	out := make([]byte, 0, len(s)*5/8)

	var buffer uint32
	bits := 0
	for i := 0; i < len(s); i++ {
		v := base32Lookup[s[i]]
		if v < 0 {
			continue
		}
		buffer = buffer<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			out = append(out, byte(buffer>>uint(bits-8)))
			bits -= 8
		}
	}

	return out
}
