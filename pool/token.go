package pool

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// EmailFromToken derives a display identifier from an opaque bearer token
// shaped like a JWT: the middle segment is decoded as base64 (tolerating
// missing padding), parsed as a claims document, and searched for an
// email-like claim at the top level or nested one level down. Every failure
// mode yields "", never an error.
func EmailFromToken(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return ""
	}

	payload := decodeSegment(parts[1])
	if payload == nil {
		return ""
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}

	if email, ok := claims["email"].(string); ok && email != "" {
		return email
	}
	for _, v := range claims {
		nested, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if email, ok := nested["email"].(string); ok && email != "" {
			return email
		}
	}
	return ""
}

// decodeSegment decodes a base64url or standard base64 segment regardless of
// padding.
func decodeSegment(seg string) []byte {
	seg = strings.TrimRight(seg, "=")
	if raw, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return raw
	}
	if raw, err := base64.RawStdEncoding.DecodeString(seg); err == nil {
		return raw
	}
	return nil
}
