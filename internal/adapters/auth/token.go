// Package auth verifies uploader bearer tokens and resolves the identity
// behind them.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const bearerPrefix = "Bearer "

// Claims are the fields carried by a token.
type Claims struct {
	Identity string
	Expiry   time.Time
}

// Sign builds a token for identity valid until expiry:
//
//	base64url(identity) "." unix(expiry) "." hex(HMAC-SHA256(key, identity|expiry|salt))
func Sign(key, salt, identity string, expiry time.Time) string {
	exp := strconv.FormatInt(expiry.Unix(), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(identity)) + "." + exp + "." +
		hex.EncodeToString(mac(key, salt, identity, exp))
}

// Parse splits a token into its claims and signature without verifying it.
func Parse(token string) (Claims, []byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, nil, fmt.Errorf("%w: expected 3 segments", ErrInvalidToken)
	}
	id, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(id) == 0 {
		return Claims{}, nil, fmt.Errorf("%w: identity segment", ErrInvalidToken)
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Claims{}, nil, fmt.Errorf("%w: expiry segment", ErrInvalidToken)
	}
	sig, err := hex.DecodeString(parts[2])
	if err != nil || len(sig) != sha256.Size {
		return Claims{}, nil, fmt.Errorf("%w: signature segment", ErrInvalidToken)
	}
	return Claims{Identity: string(id), Expiry: time.Unix(exp, 0)}, sig, nil
}

// Check verifies sig over claims with key and salt at now.
func Check(key, salt string, claims Claims, sig []byte, now time.Time) error {
	exp := strconv.FormatInt(claims.Expiry.Unix(), 10)
	if !hmac.Equal(sig, mac(key, salt, claims.Identity, exp)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}
	if !now.Before(claims.Expiry) {
		return ErrExpiredToken
	}
	return nil
}

// FromHeader extracts the token from an Authorization header value.
func FromHeader(header string) (string, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func mac(key, salt, identity, expiry string) []byte {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(identity + "|" + expiry + "|" + salt))
	return h.Sum(nil)
}
