package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// sign builds the venue request signature: the pre-hash string is
// timestamp + UPPER(method) + requestPath + body, HMAC-SHA256 keyed by the
// API secret, base64-encoded.
func sign(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
