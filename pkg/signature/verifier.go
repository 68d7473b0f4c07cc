package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidSignature is returned for any malformed, absent, or
// mismatched webhook signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// headerPattern matches the Outline-Signature header shape. The
// timestamp is milliseconds since epoch, taken verbatim for signing.
var headerPattern = regexp.MustCompile(`^t=([0-9]+),s=([0-9a-f]+)$`)

// Config configures a Verifier
type Config struct {
	// Secret is the shared signing key
	Secret string

	// MaxSkew rejects signatures whose timestamp is further than this
	// from now. Zero accepts any timestamp, matching Outline's own
	// verification behavior.
	MaxSkew time.Duration

	// Now overrides the clock, for tests
	Now func() time.Time
}

// Verifier validates webhook signatures against a shared secret
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// New creates a Verifier. The secret must be non-empty.
func New(cfg Config) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("signature: secret is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		secret:  []byte(cfg.Secret),
		maxSkew: cfg.MaxSkew,
		now:     now,
	}, nil
}

// Verify checks header against the raw request body. It is
// deterministic and has no side effects; any failure is
// ErrInvalidSignature.
func (v *Verifier) Verify(header, body string) error {
	m := headerPattern.FindStringSubmatch(header)
	if m == nil {
		return ErrInvalidSignature
	}
	timestamp, signatureHex := m[1], m[2]

	if v.maxSkew > 0 {
		if err := v.checkSkew(timestamp); err != nil {
			return err
		}
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(body))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// checkSkew rejects timestamps outside now ± maxSkew
func (v *Verifier) checkSkew(timestamp string) error {
	millis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	signed := time.UnixMilli(millis)
	skew := v.now().Sub(signed)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature header for a body at the given time.
// Used by tests and by tooling that emits signed webhooks.
func Sign(secret, body string, at time.Time) string {
	timestamp := strconv.FormatInt(at.UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + body))
	return fmt.Sprintf("t=%s,s=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
