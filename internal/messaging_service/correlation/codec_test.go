package correlation

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	orderID := uuid.New()
	token := Token{PlaceholderID: "temp_abc", OrderID: orderID, Phone: "447700900123"}

	encoded, err := Encode(token)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, token, decoded)
}

func TestEncode_RequiresPhone(t *testing.T) {
	_, err := Encode(Token{PlaceholderID: "temp_abc"})
	assert.ErrorIs(t, err, ErrMissingPhone)
}

func TestDecode_ToleratesDroppedFields(t *testing.T) {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(`{"phone":"447700900123"}`))

	decoded, err := Decode(encoded)

	require.NoError(t, err)
	assert.Equal(t, "447700900123", decoded.Phone)
	assert.Empty(t, decoded.PlaceholderID)
	assert.Equal(t, uuid.Nil, decoded.OrderID)
}

func TestDecode_AcceptsPlainJSON(t *testing.T) {
	decoded, err := Decode(`{"phone":"972501234567","placeholder_id":"temp_xyz"}`)

	require.NoError(t, err)
	assert.Equal(t, "972501234567", decoded.Phone)
	assert.Equal(t, "temp_xyz", decoded.PlaceholderID)
}

func TestDecode_BarePhoneFallback(t *testing.T) {
	for _, raw := range []string{"447700900123", "+44 7700 900123", "44-7700-900123"} {
		decoded, err := Decode(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "447700900123", decoded.Phone, raw)
	}
}

func TestDecode_MissingPhoneIsFatal(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"not a token",
		base64.RawURLEncoding.EncodeToString([]byte(`{"placeholder_id":"temp_abc"}`)),
		`{"placeholder_id":"temp_abc"}`,
		"12345", // too short to be a phone number
	}
	for _, raw := range cases {
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ErrMissingPhone, raw)
	}
}
