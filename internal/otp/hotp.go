package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math"
)

// HOTP computes an RFC 4226 code: HMAC-SHA1 over the big-endian counter,
// dynamically truncated to a 31-bit value and reduced modulo 10^digits.
func HOTP(secret []byte, counter uint64, digits int) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	code %= uint32(math.Pow10(digits))

	return fmt.Sprintf("%0*d", digits, code)
}
