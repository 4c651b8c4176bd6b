// Package auth turns a bearer credential into the identity of a registered
// profile.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kalambet/aury/internal/apierr"
	"github.com/kalambet/aury/internal/storage"
)

// ProfileStore is the lookup the resolver needs. Implemented by storage.Store.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (storage.Profile, error)
}

// Identity is an authenticated caller.
type Identity struct {
	UserID  string
	Profile storage.Profile
}

// Resolver verifies HS256 tokens whose subject is a profile id.
type Resolver struct {
	secret []byte
	store  ProfileStore
	cache  *profileCache
	clock  Clock
}

// NewResolver creates a Resolver with a profile cache of the given TTL.
// A TTL <= 0 disables caching.
func NewResolver(secret string, store ProfileStore, cacheTTL time.Duration) *Resolver {
	return NewResolverWithClock(secret, store, realClock{}, cacheTTL)
}

// NewResolverWithClock creates a Resolver with a custom clock (for testing).
func NewResolverWithClock(secret string, store ProfileStore, clock Clock, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		store:  store,
		cache:  newProfileCache(clock, cacheTTL),
		clock:  clock,
	}
}

// Resolve validates credential and loads the caller's profile.
// Errors are *apierr.Error of kind Unauthorized, ProfileNotFound or
// PersistenceError.
func (r *Resolver) Resolve(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, apierr.Newf(apierr.Unauthorized, "missing credential")
	}

	userID, err := r.verify(credential)
	if err != nil {
		return Identity{}, apierr.New(apierr.Unauthorized, err)
	}

	if p, ok := r.cache.get(userID); ok {
		return Identity{UserID: userID, Profile: p}, nil
	}

	p, err := r.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, apierr.Newf(apierr.ProfileNotFound, "no profile for user %s", userID)
	}
	if err != nil {
		return Identity{}, apierr.New(apierr.PersistenceError, fmt.Errorf("loading profile: %w", err))
	}

	r.cache.put(p)
	return Identity{UserID: userID, Profile: p}, nil
}

func (r *Resolver) verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.clock.Now))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Issue mints a token for userID valid for ttl. A ttl <= 0 yields a token
// without expiry.
func (r *Resolver) Issue(userID string, ttl time.Duration) (string, error) {
	return Issue(string(r.secret), userID, ttl, r.clock.Now())
}

// Issue signs an HS256 token with subject userID, issued at now.
func Issue(secret, userID string, ttl time.Duration, now time.Time) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
