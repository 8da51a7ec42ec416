// Package verification issues the short numeric codes used to prove email ownership.
package verification

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/ieppc/matricula/internal/pkg/helpers"
)

const (
	// DefaultTTL is how long an issued code stays valid.
	DefaultTTL = 15 * time.Minute

	minCode = 100000
	maxCode = 999999
)

// Code is a one-time verification code and its expiry.
type Code struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the code is past its expiry at now.
func (c Code) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Issuer generates codes uniformly in [100000, 999999].
type Issuer struct {
	clock  helpers.Clock
	ttl    time.Duration
	random io.Reader
}

// NewIssuer creates an Issuer. A non-positive ttl falls back to DefaultTTL.
func NewIssuer(clock helpers.Clock, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{clock: clock, ttl: ttl, random: rand.Reader}
}

// Issue returns a fresh code expiring ttl from now.
func (i *Issuer) Issue() (Code, error) {
	n, err := rand.Int(i.random, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return Code{}, fmt.Errorf("failed to generate verification code: %w", err)
	}
	return Code{
		Value:     strconv.FormatInt(n.Int64()+minCode, 10),
		ExpiresAt: i.clock.Now().Add(i.ttl),
	}, nil
}

// IsWellFormed reports whether s looks like an issued code.
func IsWellFormed(s string) bool {
	if len(s) != 6 || s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
