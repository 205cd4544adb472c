package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignPayload_RoundTrip(t *testing.T) {
	body := []byte(`{"payment_intent_id":"pi_1","status":"succeeded"}`)

	sig := signPayload("whsec_test", body)
	assert.NotEmpty(t, sig)
	assert.True(t, verifySignature("whsec_test", body, sig))
}

func TestVerifySignature_RejectsTamperedBody(t *testing.T) {
	body := []byte(`{"amount":1000}`)
	sig := signPayload("whsec_test", body)

	assert.False(t, verifySignature("whsec_test", []byte(`{"amount":9999}`), sig))
	assert.False(t, verifySignature("other-secret", body, sig))
	assert.False(t, verifySignature("whsec_test", body, ""))
}
