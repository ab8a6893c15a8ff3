// Package auth validates heartbeat signatures and pairing tokens.
// Pure validation, no side effects; every failure mode collapses to
// domain.ErrAuthentication so callers cannot build a signing oracle.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/geb16/prodtracker/internal/domain"
)

// CanonicalPayload returns the exact bytes a device signs: JSON with
// sorted keys, compact encoding, signature field excluded. The byte
// form matches what device clients produce: &, < and > stay literal,
// and non-ASCII characters are \uXXXX-escaped.
func CanonicalPayload(hb domain.Heartbeat) ([]byte, error) {
	payload := map[string]any{
		"device_id":      hb.DeviceID,
		"timestamp":      hb.Timestamp,
		"screen_on":      hb.ScreenOn,
		"foreground_app": hb.ForegroundApp,
	}
	// encoding/json sorts map keys and emits no extraneous whitespace.
	// The Encoder detour disables the HTML escaping json.Marshal would
	// apply to &, < and >.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return escapeNonASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// escapeNonASCII rewrites multi-byte runes as \uXXXX sequences, with
// surrogate pairs for runes beyond the basic plane. All map keys are
// ASCII, so only string values are affected.
func escapeNonASCII(in []byte) []byte {
	ascii := true
	for _, b := range in {
		if b >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return in
	}
	var out bytes.Buffer
	out.Grow(len(in))
	for i := 0; i < len(in); {
		r, size := utf8.DecodeRune(in[i:])
		if r < utf8.RuneSelf {
			out.WriteByte(in[i])
			i++
			continue
		}
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
		} else {
			fmt.Fprintf(&out, `\u%04x`, r)
		}
		i += size
	}
	return out.Bytes()
}

// SignHeartbeat computes the hex HMAC-SHA256 a device would attach.
// Used by clients and tests.
func SignHeartbeat(hb domain.Heartbeat, secret string) (string, error) {
	payload, err := CanonicalPayload(hb)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyHeartbeat recomputes the HMAC over the canonical payload and
// compares it to the supplied signature in constant time. Fails closed:
// a missing secret, malformed signature, or mismatch all look the same.
func VerifyHeartbeat(hb domain.Heartbeat, secret string) error {
	if secret == "" || hb.Signature == "" {
		return domain.ErrAuthentication
	}
	supplied, err := hex.DecodeString(hb.Signature)
	if err != nil {
		return domain.ErrAuthentication
	}
	payload, err := CanonicalPayload(hb)
	if err != nil {
		return domain.ErrAuthentication
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), supplied) {
		return domain.ErrAuthentication
	}
	return nil
}

const pairingClaimDevice = "device_id"

// TokenVerifier validates pairing tokens signed with the server-held
// pairing secret.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for the given pairing secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// VerifyPairingToken checks the token's signature and expiry, extracts
// its device-id claim, and requires it to equal deviceID. A token minted
// for one device can never pair another.
func (v *TokenVerifier) VerifyPairingToken(token, deviceID string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return domain.ErrAuthentication
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.ErrAuthentication
	}
	claimed, _ := claims[pairingClaimDevice].(string)
	if claimed == "" || claimed != deviceID {
		return domain.ErrAuthentication
	}
	return nil
}

// IssuePairingToken mints a token carrying the device-id claim.
// Used by the pair-token CLI command and by tests.
func (v *TokenVerifier) IssuePairingToken(deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		pairingClaimDevice: deviceID,
		"iat":              now.Unix(),
		"exp":              now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}
