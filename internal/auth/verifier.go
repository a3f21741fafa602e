// Package auth verifies connection credentials and extracts the caller's
// identity (user id, role, ward).
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrAuthentication means the identity could not be established; the
// connection must be refused and never registered.
var ErrAuthentication = errors.New("authentication error")

// ErrAuthorization means an established identity attempted a privileged
// action its role does not allow.
var ErrAuthorization = errors.New("authorization error")

// Principal is the verified identity behind a credential.
type Principal struct {
	UserID string
	Role   string
	Ward   string // empty for admins
}

// Verifier validates JWTs and extracts user/role/ward claims.
// Supports modes: dev (token is "user:role[:ward]"), hmac (HS256),
// jwks (RS256 from a JWKS URL).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	JWKSURL    string
	UserClaim  string
	RoleClaim  string
	WardClaim  string
	http       *http.Client
	mu         sync.RWMutex
	jwks       jwks
	lastFetch  time.Time
	cacheTTL   time.Duration
}

type jwks struct {
	Keys []jwk `json:"keys"`
}
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:       mode,
		HMACSecret: []byte(os.Getenv("AUTH_HMAC_SECRET")),
		JWKSURL:    os.Getenv("AUTH_JWKS_URL"),
		UserClaim:  envOr("AUTH_USER_CLAIM", "sub"),
		RoleClaim:  envOr("AUTH_ROLE_CLAIM", "role"),
		WardClaim:  envOr("AUTH_WARD_CLAIM", "ward"),
		http:       &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   10 * time.Minute,
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// Verify checks the token and returns the principal. All failures wrap
// ErrAuthentication.
func (v *Verifier) Verify(token string) (Principal, error) {
	p, err := v.verify(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return p, nil
}

func (v *Verifier) verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, errors.New("missing token")
	}
	if v.Mode == "dev" {
		// token format: user:role[:ward]
		parts := strings.SplitN(token, ":", 3)
		if len(parts) < 2 {
			return Principal{}, errors.New("invalid dev token; expected user:role[:ward]")
		}
		p := Principal{UserID: parts[0], Role: strings.ToLower(parts[1])}
		if len(parts) == 3 {
			p.Ward = parts[2]
		}
		return p, nil
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, errors.New("invalid JWT")
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, err
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, err
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, err
	}
	var hdr map[string]any
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return Principal{}, err
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, err
	}
	alg, _ := hdr["alg"].(string)
	kid, _ := hdr["kid"].(string)
	signingInput := []byte(segs[0] + "." + segs[1])
	switch v.Mode {
	case "hmac":
		if alg != "HS256" {
			return Principal{}, errors.New("unsupported alg for hmac")
		}
		mac := hmac.New(sha256.New, v.HMACSecret)
		mac.Write(signingInput)
		if !hmac.Equal(mac.Sum(nil), sig) {
			return Principal{}, errors.New("bad signature")
		}
	case "jwks":
		if alg != "RS256" {
			return Principal{}, errors.New("unsupported alg for jwks")
		}
		pub, err := v.getRSAPublicKey(kid)
		if err != nil {
			return Principal{}, err
		}
		h := sha256.Sum256(signingInput)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
			return Principal{}, errors.New("bad signature")
		}
	default:
		return Principal{}, errors.New("unsupported auth mode")
	}
	if exp, ok := claims["exp"].(float64); ok && time.Now().Unix() > int64(exp) {
		return Principal{}, errors.New("token expired")
	}
	uid, _ := claims[v.UserClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	ward, _ := claims[v.WardClaim].(string)
	if uid == "" {
		return Principal{}, errors.New("missing user claim")
	}
	if role == "" {
		return Principal{}, errors.New("missing role claim")
	}
	return Principal{UserID: uid, Role: strings.ToLower(role), Ward: ward}, nil
}

// CanAlert reports whether the principal may raise emergency alerts.
func (p Principal) CanAlert() bool { return p.Role == "admin" || p.Role == "supervisor" }

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

// get RSAPublicKey from JWKS cache/fetch
func (v *Verifier) getRSAPublicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	cached := v.jwks
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if len(cached.Keys) == 0 || stale {
		if err := v.fetchJWKS(); err != nil {
			return nil, err
		}
		v.mu.RLock()
		cached = v.jwks
		v.mu.RUnlock()
	}
	for _, k := range cached.Keys {
		if k.Kid == kid && strings.EqualFold(k.Kty, "RSA") {
			nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
			if err != nil {
				return nil, err
			}
			eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
			if err != nil {
				return nil, err
			}
			n := new(big.Int).SetBytes(nBytes)
			return &rsa.PublicKey{N: n, E: bytesToInt(eBytes)}, nil
		}
	}
	return nil, errors.New("kid not found in JWKS")
}

func bytesToInt(b []byte) int {
	// small helper; for typical e bytes like 0x010001
	var x int
	for _, v := range b {
		x = (x << 8) | int(v)
	}
	return x
}

func (v *Verifier) fetchJWKS() error {
	if v.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	req, _ := http.NewRequest(http.MethodGet, v.JWKSURL, nil)
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	var j jwks
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return err
	}
	v.mu.Lock()
	v.jwks = j
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
