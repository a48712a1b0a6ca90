package kvs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrMissingSession indicates that no token pair exists for a session ID.
var ErrMissingSession = errors.New("missing session")

const (
	cacheValueAllowed   = "allowed"
	cacheValueForbidden = "forbidden"

	defaultTimeout = time.Second
)

// TokenPair is a token pair as returned by the identity provider, ready to
// be persisted with the lifetimes the provider granted.
type TokenPair struct {
	AccessToken  string
	RefreshToken string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Tokens is a token pair read back from the store.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// CacheState is the memoized authorization verdict for a (session, role) pair.
type CacheState int

// Possible cache states.
const (
	NotCached CacheState = iota
	Allowed
	Forbidden
)

// Store persists session tokens and authorization verdicts in Redis.
type Store struct {
	client redis.UniversalClient

	allowedTTL   time.Duration
	forbiddenTTL time.Duration
}

// New creates a Store connected to the Redis instance at redisURL.
func New(redisURL string, allowedTTL, forbiddenTTL time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	opts.DialTimeout = defaultTimeout
	opts.ReadTimeout = defaultTimeout
	opts.WriteTimeout = defaultTimeout

	return NewWithClient(redis.NewClient(opts), allowedTTL, forbiddenTTL), nil
}

// NewWithClient creates a Store on top of an existing Redis client.
func NewWithClient(client redis.UniversalClient, allowedTTL, forbiddenTTL time.Duration) *Store {
	return &Store{
		client:       client,
		allowedTTL:   allowedTTL,
		forbiddenTTL: forbiddenTTL,
	}
}

// StoreTokens writes both tokens of a session in a single transactional
// pipeline, so a reader never observes only one of the two keys.
func (s *Store) StoreTokens(ctx context.Context, sessionID string, pair TokenPair) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, accessTokenKey(sessionID), pair.AccessToken, pair.AccessTokenTTL)
		pipe.Set(ctx, refreshTokenKey(sessionID), pair.RefreshToken, pair.RefreshTokenTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store token pair: %w", err)
	}

	return nil
}

// LoadTokens reads back the token pair of a session. It returns
// ErrMissingSession if either token is absent, since both keys are always
// written together and expire independently.
func (s *Store) LoadTokens(ctx context.Context, sessionID string) (Tokens, error) {
	values, err := s.client.MGet(ctx, accessTokenKey(sessionID), refreshTokenKey(sessionID)).Result()
	if err != nil {
		return Tokens{}, fmt.Errorf("load token pair: %w", err)
	}

	accessToken, okAccess := values[0].(string)
	refreshToken, okRefresh := values[1].(string)
	if !okAccess || !okRefresh {
		return Tokens{}, ErrMissingSession
	}

	return Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// PutCache memoizes the authorization verdict for a (session, role) pair.
// Allowed and Forbidden entries get their configured TTL, NotCached drops
// the entry.
func (s *Store) PutCache(ctx context.Context, sessionID, role string, state CacheState) error {
	key := sessionCacheKey(sessionID, role)

	var err error
	switch state {
	case Allowed:
		err = s.client.Set(ctx, key, cacheValueAllowed, s.allowedTTL).Err()
	case Forbidden:
		err = s.client.Set(ctx, key, cacheValueForbidden, s.forbiddenTTL).Err()
	case NotCached:
		err = s.client.Del(ctx, key).Err()
	default:
		return fmt.Errorf("unknown cache state %d", state)
	}
	if err != nil {
		return fmt.Errorf("update session cache: %w", err)
	}

	return nil
}

// GetCache returns the memoized verdict for a (session, role) pair. An
// absent key is NotCached. An unexpected value is treated as NotCached as
// well, the entry will be recomputed and overwritten.
func (s *Store) GetCache(ctx context.Context, sessionID, role string) (CacheState, error) {
	value, err := s.client.Get(ctx, sessionCacheKey(sessionID, role)).Result()
	if errors.Is(err, redis.Nil) {
		return NotCached, nil
	}
	if err != nil {
		return NotCached, fmt.Errorf("read session cache: %w", err)
	}

	switch value {
	case cacheValueAllowed:
		return Allowed, nil
	case cacheValueForbidden:
		return Forbidden, nil
	default:
		log.Warn().Str("role", role).Msg("Unexpected session cache value")
		return NotCached, nil
	}
}

func accessTokenKey(sessionID string) string {
	return "access_token:" + sessionID
}

func refreshTokenKey(sessionID string) string {
	return "refresh_token:" + sessionID
}

func sessionCacheKey(sessionID, role string) string {
	return "session:" + sessionID + ":" + role
}
