package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestVerifyDevToken(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("u42:Driver:Ward 3")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UserID != "u42" || p.Role != "driver" || p.Ward != "Ward 3" {
		t.Fatalf("principal = %+v", p)
	}
	p, err = v.Verify("a1:admin")
	if err != nil {
		t.Fatalf("verify admin: %v", err)
	}
	if p.Ward != "" {
		t.Fatalf("admin should have no ward, got %q", p.Ward)
	}
	if _, err := v.Verify("justauser"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("malformed token: err = %v, want ErrAuthentication", err)
	}
	if _, err := v.Verify(""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("empty token: err = %v, want ErrAuthentication", err)
	}
}

func signHS256(t *testing.T, secret []byte, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	head := enc(map[string]any{"alg": "HS256", "typ": "JWT"})
	body := enc(claims)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(head + "." + body))
	return head + "." + body + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMAC(t *testing.T) {
	secret := []byte("s3cret")
	v := &Verifier{Mode: "hmac", HMACSecret: secret, UserClaim: "sub", RoleClaim: "role", WardClaim: "ward"}

	tok := signHS256(t, secret, map[string]any{"sub": "u7", "role": "Resident", "ward": "Ward 2"})
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UserID != "u7" || p.Role != "resident" || p.Ward != "Ward 2" {
		t.Fatalf("principal = %+v", p)
	}

	// wrong secret
	bad := signHS256(t, []byte("other"), map[string]any{"sub": "u7", "role": "resident"})
	if _, err := v.Verify(bad); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("bad signature: err = %v, want ErrAuthentication", err)
	}

	// missing user claim
	tok = signHS256(t, secret, map[string]any{"role": "resident"})
	if _, err := v.Verify(tok); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("missing sub: err = %v, want ErrAuthentication", err)
	}

	// expired
	tok = signHS256(t, secret, map[string]any{"sub": "u7", "role": "resident", "exp": 1})
	if _, err := v.Verify(tok); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expired: err = %v, want ErrAuthentication", err)
	}
}

func TestCanAlert(t *testing.T) {
	for role, want := range map[string]bool{"admin": true, "supervisor": true, "driver": false, "resident": false} {
		if got := (Principal{Role: role}).CanAlert(); got != want {
			t.Fatalf("CanAlert(%s) = %v, want %v", role, got, want)
		}
	}
}
