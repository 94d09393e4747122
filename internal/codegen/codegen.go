package codegen

import (
	"context"
	"fmt"
	"math/rand"
)

const (
	otpLength         = 4
	sessionCodeLength = 10
	maxAttempts       = 100
)

const (
	digits       = "0123456789"
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Lookup answers whether a candidate code is already present in
// storage. Uniqueness is checked against every session ever stored,
// not just active ones, so a stale OTP can never be reissued while
// its old session is still on record.
type Lookup interface {
	OTPExists(ctx context.Context, otp string) (bool, error)
	SessionCodeExists(ctx context.Context, code string) (bool, error)
}

// Generator produces collision-free session identifiers. Codes are
// join tokens, not secrets, so a plain PRNG is fine.
type Generator struct {
	lookup Lookup
}

// New creates a generator backed by the given storage lookup.
func New(lookup Lookup) *Generator {
	return &Generator{lookup: lookup}
}

// NewOTP returns a 4-digit numeric code not present in storage.
// Collisions are expected occasionally with a 4-digit space and are
// retried; running out of attempts is surfaced as an error.
func (g *Generator) NewOTP(ctx context.Context) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		otp := randomString(digits, otpLength)
		exists, err := g.lookup.OTPExists(ctx, otp)
		if err != nil {
			return "", fmt.Errorf("otp uniqueness check: %w", err)
		}
		if !exists {
			return otp, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique otp after %d attempts", maxAttempts)
}

// NewSessionCode returns a 10-character uppercase alphanumeric code
// not present in storage.
func (g *Generator) NewSessionCode(ctx context.Context) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		code := randomString(codeAlphabet, sessionCodeLength)
		exists, err := g.lookup.SessionCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("session code uniqueness check: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique session code after %d attempts", maxAttempts)
}

func randomString(alphabet string, length int) string {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(buf)
}
