package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

func hmacSHA256Hex(key, data string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// 定数時間で比較
func equalMAC(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
