// Package identity mints and verifies the signed device tokens used to
// count free-tier usage independently of client-controlled state.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DeviceCookie carries the current 4-field device token.
	DeviceCookie = "mg_device"
	// LegacyCookie carries the old 3-field free-quota token. Read-only: it
	// is still verified so existing counts carry over, but never re-issued.
	LegacyCookie = "mg_free"
)

var (
	ErrMalformedToken = errors.New("identity: malformed token")
	ErrBadSignature   = errors.New("identity: signature mismatch")
	ErrExpiredToken   = errors.New("identity: token expired")
	ErrClockSkew      = errors.New("identity: issued in the future")
	ErrRevokedToken   = errors.New("identity: token revoked")
)

// Token is a verified device identity.
type Token struct {
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Age reports how long ago the token was issued.
func (t Token) Age(now time.Time) time.Duration {
	return now.Sub(t.IssuedAt)
}

// Issuer signs and verifies device tokens with HMAC-SHA256 under a server
// secret. Tokens are serialized as four dot-joined fields:
// id.issuedAt.expiry.signature.
type Issuer struct {
	secret    []byte
	ttl       time.Duration
	legacyTTL time.Duration
	secure    bool
	revoked   *Blacklist
	now       func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// WithBlacklist attaches a revocation set consulted on every verify.
func WithBlacklist(b *Blacklist) Option {
	return func(i *Issuer) { i.revoked = b }
}

// WithSecureCookies marks issued cookies Secure (production).
func WithSecureCookies(secure bool) Option {
	return func(i *Issuer) { i.secure = secure }
}

// WithLegacyTTL bounds the max-age assumed for legacy cookies.
func WithLegacyTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.legacyTTL = ttl
		}
	}
}

// NewIssuer constructs an Issuer. The secret must be non-empty; config
// validation fails fast before this is reached.
func NewIssuer(secret string, ttl time.Duration, opts ...Option) *Issuer {
	iss := &Issuer{
		secret:    []byte(secret),
		ttl:       ttl,
		legacyTTL: 7 * 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss
}

// Issue mints a fresh device token with a random 128-bit identifier.
func (i *Issuer) Issue() (Token, string) {
	return i.issueWithID(uuid.NewString())
}

func (i *Issuer) issueWithID(id string) (Token, string) {
	now := i.now().UTC().Truncate(time.Second)
	tok := Token{
		ID:        id,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	return tok, i.serialize(tok)
}

func (i *Issuer) serialize(tok Token) string {
	payload := tok.ID + "." +
		strconv.FormatInt(tok.IssuedAt.Unix(), 10) + "." +
		strconv.FormatInt(tok.ExpiresAt.Unix(), 10)
	return payload + "." + hex.EncodeToString(i.sign(payload))
}

func (i *Issuer) sign(payload string) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Verify decodes and validates a serialized device token. Malformed input
// returns an error, never panics. Signature comparison is constant-time.
func (i *Issuer) Verify(raw string) (Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return Token{}, ErrMalformedToken
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return Token{}, ErrMalformedToken
	}
	issuedAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, ErrMalformedToken
	}
	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Token{}, ErrMalformedToken
	}
	sig, err := hex.DecodeString(parts[3])
	if err != nil {
		return Token{}, ErrMalformedToken
	}

	payload := parts[0] + "." + parts[1] + "." + parts[2]
	if !hmac.Equal(sig, i.sign(payload)) {
		return Token{}, ErrBadSignature
	}

	now := i.now()
	tok := Token{
		ID:        parts[0],
		IssuedAt:  time.Unix(issuedAt, 0).UTC(),
		ExpiresAt: time.Unix(expiry, 0).UTC(),
	}
	if !now.Before(tok.ExpiresAt) {
		return Token{}, ErrExpiredToken
	}
	if tok.IssuedAt.After(now) {
		return Token{}, ErrClockSkew
	}
	if i.revoked != nil && i.revoked.Contains(tok.ID) {
		return Token{}, ErrRevokedToken
	}
	return tok, nil
}

// VerifyLegacy validates the old 3-field free-quota token
// (id.expiry.signature, HMAC over id.expiry) and returns its identifier.
func (i *Issuer) VerifyLegacy(raw string) (string, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", ErrMalformedToken
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return "", ErrMalformedToken
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrMalformedToken
	}
	sig, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedToken
	}
	if !hmac.Equal(sig, i.sign(parts[0]+"."+parts[1])) {
		return "", ErrBadSignature
	}
	if !i.now().Before(time.Unix(expiry, 0)) {
		return "", ErrExpiredToken
	}
	if i.revoked != nil && i.revoked.Contains(parts[0]) {
		return "", ErrRevokedToken
	}
	return parts[0], nil
}

// GetOrIssue resolves the device identity for a request. A valid cookie is
// returned as-is; anything malformed, expired, or tampered triggers a
// silent re-mint. A valid legacy cookie donates its identifier to the new
// token so prior free-quota consumption still counts. Always yields a
// usable identity.
func (i *Issuer) GetOrIssue(w http.ResponseWriter, r *http.Request) (Token, bool) {
	if c, err := r.Cookie(DeviceCookie); err == nil {
		if tok, err := i.Verify(c.Value); err == nil {
			return tok, false
		}
	}

	id := ""
	if c, err := r.Cookie(LegacyCookie); err == nil {
		if legacyID, err := i.VerifyLegacy(c.Value); err == nil {
			id = legacyID
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	tok, raw := i.issueWithID(id)
	i.setCookie(w, raw)
	return tok, true
}

func (i *Issuer) setCookie(w http.ResponseWriter, raw string) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookie,
		Value:    raw,
		Path:     "/",
		MaxAge:   int(i.ttl / time.Second),
		HttpOnly: true,
		Secure:   i.secure,
		// Lax so the token survives cross-site checkout redirects.
		SameSite: http.SameSiteLaxMode,
	})
}

// Revoke adds a token id to the blacklist, if one is attached.
func (i *Issuer) Revoke(id string) {
	if i.revoked != nil {
		i.revoked.Add(id)
	}
}
