package signature

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "test-webhook-secret"

func newTestVerifier(t *testing.T, cfg Config) *Verifier {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	v, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}
	return v
}

func TestNew_RequiresSecret(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error for empty secret")
	}
}

func TestVerify_ValidSignature(t *testing.T) {
	v := newTestVerifier(t, Config{})
	body := `{"event":"users.signin"}`
	header := Sign(testSecret, body, time.Now())

	if err := v.Verify(header, body); err != nil {
		t.Errorf("Expected valid signature to verify, got %v", err)
	}
}

func TestVerify_MutatedSignature(t *testing.T) {
	v := newTestVerifier(t, Config{})
	body := `{"event":"users.signin"}`
	header := Sign(testSecret, body, time.Now())

	// Flip the last hex digit of the signature.
	last := header[len(header)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	mutated := header[:len(header)-1] + string(flipped)

	if err := v.Verify(mutated, body); err != ErrInvalidSignature {
		t.Errorf("Expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	v := newTestVerifier(t, Config{})
	body := `{"event":"users.signin"}`
	header := Sign("some-other-secret", body, time.Now())

	if err := v.Verify(header, body); err != ErrInvalidSignature {
		t.Errorf("Expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	v := newTestVerifier(t, Config{})
	header := Sign(testSecret, `{"event":"users.signin"}`, time.Now())

	if err := v.Verify(header, `{"event":"users.signout"}`); err != ErrInvalidSignature {
		t.Errorf("Expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_MalformedHeaders(t *testing.T) {
	v := newTestVerifier(t, Config{})
	body := "{}"
	valid := Sign(testSecret, body, time.Now())

	cases := map[string]string{
		"empty":           "",
		"missing t":       strings.TrimPrefix(valid, "t="),
		"missing s":       "t=1234567890",
		"uppercase hex":   "t=1234567890,s=ABCDEF0123",
		"non-decimal t":   "t=12x4,s=abcdef",
		"trailing junk":   valid + "x",
		"swapped fields":  "s=abcdef,t=1234567890",
		"space separated": strings.Replace(valid, ",", ", ", 1),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			if err := v.Verify(header, body); err != ErrInvalidSignature {
				t.Errorf("Expected ErrInvalidSignature for %q, got %v", header, err)
			}
		})
	}
}

func TestVerify_Deterministic(t *testing.T) {
	v := newTestVerifier(t, Config{})
	body := `{"event":"users.signin"}`
	header := Sign(testSecret, body, time.Now())

	for i := 0; i < 3; i++ {
		if err := v.Verify(header, body); err != nil {
			t.Fatalf("Verification result changed on call %d: %v", i, err)
		}
	}
}

func TestVerify_SkewDisabledAcceptsOldTimestamps(t *testing.T) {
	v := newTestVerifier(t, Config{})
	body := "{}"
	header := Sign(testSecret, body, time.Now().Add(-24*time.Hour))

	if err := v.Verify(header, body); err != nil {
		t.Errorf("Expected old timestamp to verify with skew check disabled, got %v", err)
	}
}

func TestVerify_MaxSkew(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(t, Config{
		MaxSkew: 5 * time.Minute,
		Now:     func() time.Time { return now },
	})
	body := "{}"

	if err := v.Verify(Sign(testSecret, body, now.Add(-time.Minute)), body); err != nil {
		t.Errorf("Expected recent timestamp to verify, got %v", err)
	}
	if err := v.Verify(Sign(testSecret, body, now.Add(-time.Hour)), body); err != ErrInvalidSignature {
		t.Errorf("Expected stale timestamp to fail, got %v", err)
	}
	if err := v.Verify(Sign(testSecret, body, now.Add(time.Hour)), body); err != ErrInvalidSignature {
		t.Errorf("Expected future timestamp to fail, got %v", err)
	}
}
