package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/Sadik-Sami/ToDo-DnD/config"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	defaultClockLeeway  = time.Minute
)

var (
	errNoSigningKey     = errors.New("auth: neither jwks nor shared secret configured")
	errTokenExpired     = errors.New("token expired")
	errTokenNotYetValid = errors.New("token not valid yet")
	errTokenIssuedLater = errors.New("token used before issued")
	errBadAudience      = errors.New("invalid audience")
	errBadIssuer        = errors.New("invalid issuer")
	errMissingSubject   = errors.New("missing sub")
)

// VerifierConfig selects how bearer tokens are checked. Exactly one of JWKS
// (RS256, identity provider keys) or SharedSecret (HS256, local runs) is used;
// the shared secret wins when both are set.
type VerifierConfig struct {
	JWKS         *keyfunc.JWKS
	SharedSecret []byte
	Audience     string
	Issuer       string
	KeyCacheTTL  time.Duration
	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
}

// VerifierConfigFrom maps service settings onto a VerifierConfig. jwks is
// ignored in local HS256 mode.
func VerifierConfigFrom(cfg config.Config, jwks *keyfunc.JWKS) VerifierConfig {
	vc := VerifierConfig{
		Audience:    cfg.Auth0Audience,
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}
	if cfg.LocalAuthMode == "hs256" {
		vc.SharedSecret = []byte(cfg.LocalAuthSecret)
		return vc
	}
	vc.JWKS = jwks
	if cfg.Auth0Domain != "" {
		vc.Issuer = "https://" + cfg.Auth0Domain + "/"
	}
	return vc
}

// Verifier resolves bearer tokens into the id of the acting user.
type Verifier struct {
	audience string
	issuer   string
	leeway   time.Duration
	parser   *jwt.Parser
	key      jwt.Keyfunc
	now      func() time.Time
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{
		audience: cfg.Audience,
		issuer:   cfg.Issuer,
		leeway:   cfg.Leeway,
		now:      time.Now,
	}
	if v.leeway <= 0 {
		v.leeway = defaultClockLeeway
	}
	// Claims are checked in validate so the leeway applies.
	switch {
	case len(cfg.SharedSecret) > 0:
		secret := cfg.SharedSecret
		v.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
		v.key = func(*jwt.Token) (any, error) { return secret, nil }
	case cfg.JWKS != nil:
		ttl := cfg.KeyCacheTTL
		if ttl == 0 {
			ttl = defaultJWKSCacheTTL
		}
		keys := &jwksKeys{jwks: cfg.JWKS, ttl: ttl}
		v.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
		v.key = keys.lookup
	default:
		return nil, errNoSigningKey
	}
	return v, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (v *Verifier) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return v.UserIDFromBearer(token)
}

// UserIDFromBearer verifies a raw bearer token and returns its subject.
func (v *Verifier) UserIDFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}
	var claims jwt.RegisteredClaims
	if _, err := v.parser.ParseWithClaims(readOnlyString(token), &claims, v.key); err != nil {
		return "", err
	}
	if err := v.validate(&claims); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (v *Verifier) validate(c *jwt.RegisteredClaims) error {
	now := v.now()
	switch {
	case !c.VerifyExpiresAt(now.Add(-v.leeway), true):
		return errTokenExpired
	case !c.VerifyNotBefore(now.Add(v.leeway), false):
		return errTokenNotYetValid
	case !c.VerifyIssuedAt(now.Add(v.leeway), false):
		return errTokenIssuedLater
	case v.audience != "" && !c.VerifyAudience(v.audience, true):
		return errBadAudience
	case v.issuer != "" && !c.VerifyIssuer(v.issuer, true):
		return errBadIssuer
	case c.Subject == "":
		return errMissingSubject
	}
	return nil
}

// jwksKeys memoizes JWKS lookups per kid for ttl.
type jwksKeys struct {
	jwks    *keyfunc.JWKS
	ttl     time.Duration
	entries sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func (k *jwksKeys) lookup(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if cached, ok := k.entries.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			k.entries.Delete(kid)
		}
	}
	key, err := k.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && k.ttl > 0 {
		k.entries.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(k.ttl)})
	}
	return key, nil
}
