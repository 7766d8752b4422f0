package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(config VerifierConfig) *Verifier {
	return NewVerifier(config, testLogger())
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifier_Handshake_EchoesChallenge(t *testing.T) {
	verifier := newTestVerifier(VerifierConfig{VerifyToken: "shared-token"})

	challenge, err := verifier.VerifyHandshake("subscribe", "shared-token", "challenge-123")

	require.NoError(t, err)
	assert.Equal(t, "challenge-123", challenge)
}

func TestVerifier_Handshake_RejectsWrongToken(t *testing.T) {
	verifier := newTestVerifier(VerifierConfig{VerifyToken: "shared-token"})

	_, err := verifier.VerifyHandshake("subscribe", "wrong-token", "challenge-123")

	assert.ErrorIs(t, err, ErrHandshakeRejected)
}

func TestVerifier_Handshake_RejectsWrongMode(t *testing.T) {
	verifier := newTestVerifier(VerifierConfig{VerifyToken: "shared-token"})

	_, err := verifier.VerifyHandshake("unsubscribe", "shared-token", "challenge-123")

	assert.ErrorIs(t, err, ErrHandshakeRejected)
}

func TestVerifier_Signature_Valid(t *testing.T) {
	verifier := newTestVerifier(VerifierConfig{AppSecret: "app-secret"})
	body := []byte(`{"object":"whatsapp_business_account"}`)

	assert.NoError(t, verifier.VerifySignature(body, signBody("app-secret", body)))
}

func TestVerifier_Signature_Mismatch(t *testing.T) {
	verifier := newTestVerifier(VerifierConfig{AppSecret: "app-secret"})
	body := []byte(`{"object":"whatsapp_business_account"}`)

	err := verifier.VerifySignature(body, signBody("other-secret", body))

	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifier_Signature_MalformedHeader(t *testing.T) {
	verifier := newTestVerifier(VerifierConfig{AppSecret: "app-secret"})

	for _, header := range []string{"", "sha256=", "sha256=zzzz", "plainly-wrong"} {
		err := verifier.VerifySignature([]byte("body"), header)
		assert.ErrorIs(t, err, ErrSignatureMismatch, header)
	}
}

func TestVerifier_Signature_EmptySecretBypasses(t *testing.T) {
	verifier := newTestVerifier(VerifierConfig{})

	assert.NoError(t, verifier.VerifySignature([]byte("body"), "sha256=whatever"))
	assert.NoError(t, verifier.VerifySignature([]byte("body"), ""))
}

func TestVerifier_Timestamp(t *testing.T) {
	verifier := newTestVerifier(VerifierConfig{
		MaxPayloadAge: 10 * time.Minute,
		MaxClockSkew:  2 * time.Minute,
	})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	verifier.now = func() time.Time { return now }

	assert.NoError(t, verifier.VerifyTimestamp(now.Add(-5*time.Minute)))
	assert.NoError(t, verifier.VerifyTimestamp(now.Add(time.Minute)))
	assert.ErrorIs(t, verifier.VerifyTimestamp(now.Add(-11*time.Minute)), ErrStalePayload)
	assert.ErrorIs(t, verifier.VerifyTimestamp(now.Add(3*time.Minute)), ErrPayloadFromFuture)
}
