package codegen

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeLookup struct {
	otps  map[string]bool
	codes map[string]bool
	err   error

	otpCalls  int
	codeCalls int
}

func (f *fakeLookup) OTPExists(ctx context.Context, otp string) (bool, error) {
	f.otpCalls++
	if f.err != nil {
		return false, f.err
	}
	return f.otps[otp], nil
}

func (f *fakeLookup) SessionCodeExists(ctx context.Context, code string) (bool, error) {
	f.codeCalls++
	if f.err != nil {
		return false, f.err
	}
	return f.codes[code], nil
}

func TestNewOTPFormat(t *testing.T) {
	gen := New(&fakeLookup{})
	for i := 0; i < 50; i++ {
		otp, err := gen.NewOTP(context.Background())
		if err != nil {
			t.Fatalf("NewOTP: %v", err)
		}
		if len(otp) != 4 {
			t.Fatalf("otp %q: want 4 digits", otp)
		}
		for _, r := range otp {
			if r < '0' || r > '9' {
				t.Fatalf("otp %q contains non-digit %q", otp, r)
			}
		}
	}
}

func TestNewSessionCodeFormat(t *testing.T) {
	gen := New(&fakeLookup{})
	code, err := gen.NewSessionCode(context.Background())
	if err != nil {
		t.Fatalf("NewSessionCode: %v", err)
	}
	if len(code) != 10 {
		t.Fatalf("code %q: want 10 chars", code)
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Fatalf("code %q contains %q outside alphabet", code, r)
		}
	}
}

func TestNewOTPRetriesOnCollision(t *testing.T) {
	// Every digit-only 4-char code is taken except one; the generator
	// must keep retrying until it lands on the free code.
	lookup := &fakeLookup{otps: map[string]bool{}}
	free := "7312"
	for i := 0; i < 10000; i++ {
		if otp := fourDigits(i); otp != free {
			lookup.otps[otp] = true
		}
	}

	gen := New(lookup)
	otp, err := gen.NewOTP(context.Background())
	if err != nil {
		// With 1/10000 odds per draw and 100 attempts this can
		// legitimately exhaust; what matters is that it retried.
		if lookup.otpCalls != maxAttempts {
			t.Fatalf("exhausted after %d attempts, want %d", lookup.otpCalls, maxAttempts)
		}
		return
	}
	if otp != free {
		t.Fatalf("got %q, want the only free otp %q", otp, free)
	}
	if lookup.otpCalls < 1 {
		t.Fatal("lookup never consulted")
	}
}

func TestNewOTPBoundedAttempts(t *testing.T) {
	all := map[string]bool{}
	for i := 0; i < 10000; i++ {
		all[fourDigits(i)] = true
	}
	gen := New(&fakeLookup{otps: all})
	if _, err := gen.NewOTP(context.Background()); err == nil {
		t.Fatal("want error when every otp is taken")
	}
}

func TestNewOTPPropagatesLookupError(t *testing.T) {
	want := errors.New("db down")
	gen := New(&fakeLookup{err: want})
	_, err := gen.NewOTP(context.Background())
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want wrapped %v", err, want)
	}
}

func fourDigits(i int) string {
	return string([]byte{
		'0' + byte(i/1000%10),
		'0' + byte(i/100%10),
		'0' + byte(i/10%10),
		'0' + byte(i%10),
	})
}
