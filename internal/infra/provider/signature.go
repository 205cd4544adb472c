package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// webhookの署名はボディ全体のHMAC-SHA256（hex表記）
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// 比較は定数時間で（タイミング攻撃対策）
func verifySignature(secret string, body []byte, signature string) bool {
	expected := signPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
