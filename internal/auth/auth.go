// Package auth verifies dashboard tokens and checks their permissions.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	sddErrors "github.com/harunnryd/sdd/internal/errors"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultAlgorithm = "HS512"

// Claims is the token payload. Tokens are issued elsewhere; only the user id
// and granted permissions are read here.
type Claims struct {
	UserID      string       `json:"id"`
	Permissions []Permission `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Subject is an authenticated caller.
type Subject struct {
	ID          string
	Permissions []Permission
}

type Options struct {
	Signature string
	Algorithm string
	Everyone  []Permission
}

type Gate struct {
	key      []byte
	method   jwt.SigningMethod
	everyone []Permission
}

func NewGate(opts Options) (*Gate, error) {
	alg := opts.Algorithm
	if alg == "" {
		alg = DefaultAlgorithm
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}

	key := opts.Signature
	if key == "" {
		// Tokens signed before a restart stop validating.
		key = randomSignature()
		slog.Warn("No signature configured; using an ephemeral one", "component", "auth")
	}

	everyone := opts.Everyone
	if everyone == nil {
		everyone = DefaultEveryone
	}

	return &Gate{key: []byte(key), method: method, everyone: everyone}, nil
}

func randomSignature() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Authenticate validates raw and returns its subject.
func (g *Gate) Authenticate(raw string) (Subject, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return Subject{}, sddErrors.Unauthenticated("missing token")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return g.key, nil
	}, jwt.WithValidMethods([]string{g.method.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Subject{}, sddErrors.Unauthenticated("token expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Subject{}, sddErrors.Unauthenticated("invalid signature")
		default:
			return Subject{}, sddErrors.Unauthenticated("invalid token")
		}
	}

	if claims.UserID == "" {
		return Subject{}, sddErrors.Unauthenticated("missing user id")
	}
	return Subject{ID: claims.UserID, Permissions: claims.Permissions}, nil
}

// Allows reports whether s holds every required permission. Administrator
// holds all of them.
func (g *Gate) Allows(s Subject, required ...Permission) bool {
	if slices.Contains(s.Permissions, Administrator) {
		return true
	}
	for _, p := range required {
		if slices.Contains(g.everyone, p) || slices.Contains(s.Permissions, p) {
			continue
		}
		if group, ok := p.Group(); ok && slices.Contains(s.Permissions, group) {
			continue
		}
		return false
	}
	return true
}

// Authorize authenticates raw and checks it against required.
func (g *Gate) Authorize(raw string, required ...Permission) (Subject, error) {
	s, err := g.Authenticate(raw)
	if err != nil {
		return Subject{}, err
	}
	if !g.Allows(s, required...) {
		names := make([]string, len(required))
		for i, p := range required {
			names[i] = p.String()
		}
		return s, sddErrors.PermissionDenied("missing one of permission " + strings.Join(names, ", "))
	}
	return s, nil
}

// Issue signs a token for s, valid for ttl.
func (g *Gate) Issue(s Subject, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      s.ID,
		Permissions: s.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "sdd",
		},
	}
	return jwt.NewWithClaims(g.method, claims).SignedString(g.key)
}

type subjectKey struct{}

func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

func SubjectFrom(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(subjectKey{}).(Subject)
	return s, ok
}
