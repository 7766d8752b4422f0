// Package correlation encodes and decodes the opaque token attached to
// outbound sends so provider callbacks can be matched back to the
// originating message.
package correlation

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ErrMissingPhone is the only fatal decode outcome: without a phone number
// the callback cannot be matched to anything.
var ErrMissingPhone = errors.New("correlation token missing phone")

// Token is the correlation payload round-tripped through the provider.
// Providers are free to mangle the blob; only Phone is required on the way
// back.
type Token struct {
	PlaceholderID string    `json:"placeholder_id,omitempty"`
	OrderID       uuid.UUID `json:"order_id,omitempty"`
	Phone         string    `json:"phone"`
}

// Encode serializes the token as base64url(JSON).
func Encode(token Token) (string, error) {
	if token.Phone == "" {
		return "", ErrMissingPhone
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a correlation token. It accepts, in order of preference:
// base64url(JSON) as produced by Encode, plain JSON, and a bare phone-number
// string (providers that rewrite the blob still echo the recipient). Every
// field except Phone is optional.
func Decode(raw string) (Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Token{}, ErrMissingPhone
	}

	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		if token, ok := parseJSON(decoded); ok {
			return token, nil
		}
	}
	if decoded, err := base64.URLEncoding.DecodeString(raw); err == nil {
		if token, ok := parseJSON(decoded); ok {
			return token, nil
		}
	}
	if token, ok := parseJSON([]byte(raw)); ok {
		return token, nil
	}
	if phone := bareDigits(raw); phone != "" {
		return Token{Phone: phone}, nil
	}
	return Token{}, ErrMissingPhone
}

func parseJSON(raw []byte) (Token, bool) {
	var token Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return Token{}, false
	}
	if token.Phone == "" {
		return Token{}, false
	}
	return token, true
}

// bareDigits returns the digits-only form of raw if raw is plausibly a phone
// number, "" otherwise.
func bareDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-':
			// separators tolerated
		default:
			return ""
		}
	}
	digits := b.String()
	if len(digits) < 7 {
		return ""
	}
	return digits
}
