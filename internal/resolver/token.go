package resolver

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenSource mints short-lived bearer tokens signed with the long-lived
// service key, refreshing a little before expiry.
type tokenSource struct {
	key []byte
	ttl time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time

	clock func() time.Time
}

func newTokenSource(serviceKey string, ttl time.Duration) *tokenSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &tokenSource{key: []byte(serviceKey), ttl: ttl, clock: time.Now}
}

func (ts *tokenSource) bearer() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.clock()
	if ts.token != "" && now.Before(ts.expires.Add(-30*time.Second)) {
		return ts.token, nil
	}

	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.key)
	if err != nil {
		return "", fmt.Errorf("sign bearer token: %w", err)
	}
	ts.token = tok
	ts.expires = now.Add(ts.ttl)
	return tok, nil
}
