package jwks

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osvaldoandrade/formq/pkg/auth"
)

type keyServer struct {
	*httptest.Server
	key     *rsa.PrivateKey
	kid     atomic.Value
	fetches atomic.Int32
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	ks := &keyServer{key: privKey}
	ks.kid.Store("test-key-1")
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.fetches.Add(1)
		n := base64.RawURLEncoding.EncodeToString(privKey.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{
				{"kty": "RSA", "kid": ks.kid.Load().(string), "n": n, "e": e},
			},
		})
	}))
	t.Cleanup(ks.Close)
	return ks
}

func newTestValidator(t *testing.T, ks *keyServer, skew time.Duration) auth.Validator {
	t.Helper()
	v, err := NewValidator(auth.Config{
		JwksURL:     ks.URL,
		Issuer:      "test-issuer",
		Audience:    "formq",
		ClockSkew:   skew,
		HTTPTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return v
}

func TestJWKSValidator(t *testing.T) {
	ks := newKeyServer(t)
	validator := newTestValidator(t, ks, 60*time.Second)

	now := time.Now().Unix()
	token := signToken(t, ks.key, "test-key-1", map[string]any{
		"iss":   "test-issuer",
		"aud":   "formq",
		"sub":   "user-42",
		"exp":   now + 3600,
		"iat":   now,
		"email": "test@example.com",
	})

	claims, err := validator.Validate(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.UserID() != "user-42" {
		t.Errorf("expected subject 'user-42', got '%s'", claims.Subject)
	}
	if claims.Email != "test@example.com" {
		t.Errorf("expected email 'test@example.com', got '%s'", claims.Email)
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("expected issuer 'test-issuer', got '%s'", claims.Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "formq" {
		t.Errorf("expected audience ['formq'], got %v", claims.Audience)
	}
	if claims.ExpiresAt.Unix() != now+3600 {
		t.Errorf("unexpected expiry %v", claims.ExpiresAt)
	}

	if _, err := validator.Validate(token); err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if got := ks.fetches.Load(); got != 1 {
		t.Errorf("expected keys to be cached, fetched %d times", got)
	}
}

func TestJWKSValidatorRejects(t *testing.T) {
	ks := newKeyServer(t)
	validator := newTestValidator(t, ks, time.Second)
	now := time.Now().Unix()

	tests := []struct {
		name   string
		kid    string
		claims map[string]any
	}{
		{
			name:   "wrong issuer",
			kid:    "test-key-1",
			claims: map[string]any{"iss": "wrong-issuer", "aud": "formq", "sub": "u", "exp": now + 3600},
		},
		{
			name:   "wrong audience",
			kid:    "test-key-1",
			claims: map[string]any{"iss": "test-issuer", "aud": "other", "sub": "u", "exp": now + 3600},
		},
		{
			name:   "expired",
			kid:    "test-key-1",
			claims: map[string]any{"iss": "test-issuer", "aud": "formq", "sub": "u", "exp": now - 3600, "iat": now - 7200},
		},
		{
			name:   "missing expiry",
			kid:    "test-key-1",
			claims: map[string]any{"iss": "test-issuer", "aud": "formq", "sub": "u"},
		},
		{
			name:   "missing subject",
			kid:    "test-key-1",
			claims: map[string]any{"iss": "test-issuer", "aud": "formq", "exp": now + 3600},
		},
		{
			name:   "unknown kid",
			kid:    "other-key",
			claims: map[string]any{"iss": "test-issuer", "aud": "formq", "sub": "u", "exp": now + 3600},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signToken(t, ks.key, tt.kid, tt.claims)
			_, err := validator.Validate(token)
			if !errors.Is(err, auth.ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestJWKSValidatorKeyRotation(t *testing.T) {
	ks := newKeyServer(t)
	validator := newTestValidator(t, ks, time.Second)
	now := time.Now().Unix()
	claims := map[string]any{"iss": "test-issuer", "aud": "formq", "sub": "u", "exp": now + 3600}

	if _, err := validator.Validate(signToken(t, ks.key, "test-key-1", claims)); err != nil {
		t.Fatalf("validate before rotation: %v", err)
	}
	ks.kid.Store("test-key-2")
	if _, err := validator.Validate(signToken(t, ks.key, "test-key-2", claims)); err != nil {
		t.Fatalf("validate after rotation: %v", err)
	}
	if got := ks.fetches.Load(); got != 2 {
		t.Errorf("expected a refetch on unknown kid, fetched %d times", got)
	}
}

func TestNewValidatorFromJSON(t *testing.T) {
	ks := newKeyServer(t)
	raw, _ := json.Marshal(map[string]any{
		"jwksUrl":  ks.URL,
		"issuer":   "test-issuer",
		"audience": "formq",
	})
	v, err := auth.NewValidator(auth.ProviderConfig{Type: "jwks", Config: raw})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	token := signToken(t, ks.key, "test-key-1", map[string]any{
		"iss": "test-issuer", "aud": "formq", "sub": "u-1", "exp": time.Now().Unix() + 60,
	})
	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID() != "u-1" {
		t.Fatalf("user = %q", claims.UserID())
	}

	if _, err := NewValidatorFromJSON(json.RawMessage(`{"issuer":"x","audience":"y"}`)); err == nil {
		t.Fatal("expected error without jwksUrl")
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims map[string]any) string {
	t.Helper()
	header := map[string]any{"alg": "RS256", "typ": "JWT", "kid": kid}
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	signingInput := enc(header) + "." + enc(claims)
	hashed := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}
