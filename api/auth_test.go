package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/Sadik-Sami/ToDo-DnD/config"
	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

const (
	testAudience = "api://taskboard"
	testIssuer   = "https://issuer/"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"aud": testAudience,
		"iss": testIssuer,
		"exp": time.Now().Add(ttl).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringRejectsMalformed(t *testing.T) {
	for _, header := range []string{"Bearer ", "Basic a.b.c", "Bearer abc", "Bearer " + strings.Repeat(".", 1000)} {
		if _, err := bearerTokenFromString(header); err != errBadAuthorization {
			t.Fatalf("%q: expected bad auth header error, got %v", header, err)
		}
	}
	if _, err := bearerTokenFromString("   "); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestAuthorizationHeaderFallsBackToQueryToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stream?token=a.b.c", nil)
	if got := authorizationHeader(req); got != "Bearer a.b.c" {
		t.Fatalf("unexpected header %q", got)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	if got := authorizationHeader(req); got != "Bearer x.y.z" {
		t.Fatalf("header must win over query token, got %q", got)
	}
}

func newHS256Verifier(t *testing.T, audience string, secret []byte) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{SharedSecret: secret, Audience: audience, Issuer: testIssuer})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestUserIDFromBearerHS256(t *testing.T) {
	v := newHS256Verifier(t, testAudience, testSecret)

	userID, err := v.UserIDFromBearer([]byte(signToken(t, "user-123", 5*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromBearerNearExpiry(t *testing.T) {
	v := newHS256Verifier(t, testAudience, testSecret)
	if _, err := v.UserIDFromAuthHeader("Bearer " + signToken(t, "u1", 30*time.Second)); err != nil {
		t.Fatalf("token with 30s left must be accepted: %v", err)
	}
	// Expired within the leeway still passes, past it fails.
	if _, err := v.UserIDFromAuthHeader("Bearer " + signToken(t, "u1", -30*time.Second)); err != nil {
		t.Fatalf("token expired inside the leeway must be accepted: %v", err)
	}
	if _, err := v.UserIDFromAuthHeader("Bearer " + signToken(t, "u1", -2*time.Minute)); err != errTokenExpired {
		t.Fatalf("expected token expired, got %v", err)
	}
}

func TestVerifierTimeClaims(t *testing.T) {
	v := newHS256Verifier(t, testAudience, testSecret)
	now := time.Now()
	sign := func(claims jwt.MapClaims) string {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return "Bearer " + signed
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{"sub": "u1", "aud": testAudience, "iss": testIssuer, "exp": now.Add(time.Hour).Unix()}
	}

	future := base()
	future["iat"] = now.Add(10 * time.Minute).Unix()
	if _, err := v.UserIDFromAuthHeader(sign(future)); err != errTokenIssuedLater {
		t.Fatalf("expected iat rejection, got %v", err)
	}
	early := base()
	early["nbf"] = now.Add(10 * time.Minute).Unix()
	if _, err := v.UserIDFromAuthHeader(sign(early)); err != errTokenNotYetValid {
		t.Fatalf("expected nbf rejection, got %v", err)
	}
	skewed := base()
	skewed["iat"] = now.Add(30 * time.Second).Unix()
	skewed["nbf"] = now.Add(30 * time.Second).Unix()
	if _, err := v.UserIDFromAuthHeader(sign(skewed)); err != nil {
		t.Fatalf("small clock skew must be tolerated: %v", err)
	}
	noExp := base()
	delete(noExp, "exp")
	if _, err := v.UserIDFromAuthHeader(sign(noExp)); err != errTokenExpired {
		t.Fatalf("exp is required, got %v", err)
	}
}

func TestUserIDFromAuthHeaderRejects(t *testing.T) {
	v := newHS256Verifier(t, testAudience, testSecret)
	other := newHS256Verifier(t, "api://other", testSecret)
	valid := "Bearer " + signToken(t, "user-123", 5*time.Minute)

	if _, err := v.UserIDFromAuthHeader(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := other.UserIDFromAuthHeader(valid); err != errBadAudience {
		t.Fatalf("expected audience mismatch, got %v", err)
	}
	if _, err := v.UserIDFromAuthHeader("Bearer " + signToken(t, "", 5*time.Minute)); err != errMissingSubject {
		t.Fatalf("expected missing sub, got %v", err)
	}
	wrongKey := newHS256Verifier(t, testAudience, []byte("other"))
	if _, err := wrongKey.UserIDFromAuthHeader(valid); err == nil {
		t.Fatal("expected signature mismatch to be rejected")
	}
	wrongIssuer, err := NewVerifier(VerifierConfig{SharedSecret: testSecret, Issuer: "https://elsewhere/"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := wrongIssuer.UserIDFromAuthHeader(valid); err != errBadIssuer {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
}

func TestNewVerifierRequiresKeys(t *testing.T) {
	if _, err := NewVerifier(VerifierConfig{Audience: testAudience}); err != errNoSigningKey {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestVerifierConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Auth0Domain = "tenant.example.com"
	cfg.Auth0Audience = testAudience
	cfg.JWKSCacheTTL = 5 * time.Minute

	vc := VerifierConfigFrom(cfg, nil)
	if vc.Issuer != "https://tenant.example.com/" || vc.Audience != testAudience || vc.KeyCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected provider config %+v", vc)
	}
	if len(vc.SharedSecret) != 0 {
		t.Fatal("provider mode must not carry a shared secret")
	}

	cfg.LocalAuthMode = "hs256"
	cfg.LocalAuthSecret = "local"
	vc = VerifierConfigFrom(cfg, nil)
	if string(vc.SharedSecret) != "local" || vc.Issuer != "" {
		t.Fatalf("unexpected local config %+v", vc)
	}
	v, err := NewVerifier(vc)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1", "aud": testAudience, "exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("local"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if id, err := v.UserIDFromAuthHeader("Bearer " + signed); err != nil || id != "u1" {
		t.Fatalf("expected u1, got %q %v", id, err)
	}
}

func TestRS256VerifierRejectsHS256(t *testing.T) {
	keys := &jwksKeys{jwks: &keyfunc.JWKS{}, ttl: time.Minute}
	v := &Verifier{
		leeway: time.Minute,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation()),
		key:    keys.lookup,
		now:    time.Now,
	}
	if _, err := v.UserIDFromAuthHeader("Bearer " + signToken(t, "user-123", time.Minute)); err == nil {
		t.Fatal("expected HS256 token to be rejected in RS256 mode")
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(Authenticate(newHS256Verifier(t, testAudience, testSecret), nil, "/healthz"))
	e.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, domain.ActorFrom(c.Request().Context()))
	})
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, "u1", time.Minute))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "u1" {
		t.Fatalf("expected actor u1, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected skipped path to pass, got %d", rec.Code)
	}
}

func TestAuthenticateNilAuthIsAnonymous(t *testing.T) {
	e := echo.New()
	e.Use(Authenticate(nil, nil))
	e.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, "anon:"+domain.ActorFrom(c.Request().Context()))
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if rec.Body.String() != "anon:" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}
