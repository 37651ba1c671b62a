package utils

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const base62Chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomToken returns n random base62 characters. If the system entropy
// source fails it falls back to a timestamp-derived token, so callers always
// get a usable value.
func RandomToken(n int) string {
	var sb strings.Builder
	for range n {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(base62Chars))))
		if err != nil {
			return strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		sb.WriteByte(base62Chars[num.Int64()])
	}
	return sb.String()
}
