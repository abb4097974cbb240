package vault

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

func testKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestTokenizeResolveRoundTrip(t *testing.T) {
	v := New(NewStaticKeyProvider(testKey(1)))

	payload := []byte(`{"number":"4111111111111111","expiry_month":12,"expiry_year":2030}`)
	tok, err := v.Tokenize(payload, 0)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if tok.ID == "" {
		t.Fatalf("token id must not be empty")
	}
	if !tok.ExpiresAt.IsZero() {
		t.Fatalf("ttl 0 must mean no expiry")
	}

	got, err := v.Resolve(tok.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestResolveUnknown(t *testing.T) {
	v := New(NewStaticKeyProvider(testKey(1)))
	if _, err := v.Resolve("nope"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("want ErrTokenNotFound, got %v", err)
	}
}

func TestRevokeIsTerminalAndIdempotent(t *testing.T) {
	v := New(NewStaticKeyProvider(testKey(1)))

	tok, err := v.Tokenize([]byte("payload"), 0)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}

	v.Revoke(tok.ID)
	if _, err := v.Resolve(tok.ID); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("revoked token must resolve as not found, got %v", err)
	}
	// Second revoke is a no-op, not an error.
	v.Revoke(tok.ID)
	v.Revoke("unknown")
}

// TestConcurrentResolveRevoke exercises a resolve racing a revoke of the same
// token. Run with -race; every resolve must either return the payload or
// ErrTokenNotFound, never anything in between.
func TestConcurrentResolveRevoke(t *testing.T) {
	v := New(NewStaticKeyProvider(testKey(1)))

	for i := 0; i < 50; i++ {
		tok, err := v.Tokenize([]byte("payload"), 0)
		if err != nil {
			t.Fatalf("tokenize: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			got, err := v.Resolve(tok.ID)
			switch {
			case err == nil:
				if string(got) != "payload" {
					t.Errorf("payload mismatch: %q", got)
				}
			case errors.Is(err, ErrTokenNotFound):
			default:
				t.Errorf("unexpected resolve error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			v.Revoke(tok.ID)
		}()
		wg.Wait()

		if _, err := v.Resolve(tok.ID); !errors.Is(err, ErrTokenNotFound) {
			t.Fatalf("token must be gone after revoke, got %v", err)
		}
	}
}

func TestExpiry(t *testing.T) {
	v := New(NewStaticKeyProvider(testKey(1)))
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	v.SetClock(func() time.Time { return now })

	tok, err := v.Tokenize([]byte("payload"), time.Hour)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}

	if _, err := v.Resolve(tok.ID); err != nil {
		t.Fatalf("resolve before expiry: %v", err)
	}

	now = now.Add(time.Hour + time.Second)
	if _, err := v.Resolve(tok.ID); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
}

func TestRotationWindowDecryptsWithPreviousKey(t *testing.T) {
	oldKey := testKey(1)
	v := New(NewStaticKeyProvider(oldKey))

	tok, err := v.Tokenize([]byte("payload"), 0)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}

	// Rotate: new active key, old key still available for decryption.
	v.keys = NewStaticKeyProvider(testKey(2), oldKey)

	got, err := v.Resolve(tok.ID)
	if err != nil {
		t.Fatalf("resolve after rotation: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("payload mismatch: %q", got)
	}

	// Without the rotation window the token is unreadable.
	v.keys = NewStaticKeyProvider(testKey(2))
	if _, err := v.Resolve(tok.ID); err == nil {
		t.Fatalf("expected decrypt failure without previous key")
	}
}

func TestBadKeyLength(t *testing.T) {
	v := New(NewStaticKeyProvider([]byte("short")))
	if _, err := v.Tokenize([]byte("payload"), 0); err == nil {
		t.Fatalf("expected error for short key")
	}
}
