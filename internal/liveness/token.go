package liveness

import (
	"errors"
	"strconv"
	"strings"
)

const payloadSeparator = "_"

// ErrMalformedPayload is returned when a scanned payload cannot be split back
// into a session id and an issue timestamp.
var ErrMalformedPayload = errors.New("liveness: malformed payload")

// Token is the value encoded into the displayed QR code. It is recomputed on
// every rotation and never stored on its own.
type Token struct {
	SessionID string `json:"session_id"`
	IssuedAt  int64  `json:"issued_at"` // milliseconds since the epoch
}

// Payload returns the wire form of the token.
func (t Token) Payload() string {
	return FormatPayload(t)
}

// FormatPayload joins the session id and issue time as "<id>_<ms>".
func FormatPayload(t Token) string {
	return t.SessionID + payloadSeparator + strconv.FormatInt(t.IssuedAt, 10)
}

// ParsePayload is the inverse of FormatPayload.
func ParsePayload(payload string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(payload), payloadSeparator)
	if len(parts) != 2 || parts[0] == "" {
		return Token{}, ErrMalformedPayload
	}

	issuedAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, ErrMalformedPayload
	}

	return Token{SessionID: parts[0], IssuedAt: issuedAt}, nil
}
