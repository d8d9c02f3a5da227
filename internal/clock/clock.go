// Package clock provides the injectable UTC clock and deterministic entity-ID
// minting used throughout the core.
package clock

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Clock yields the current UTC instant. Injectable so tests can pin time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock. Now always returns UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fake is a settable clock for tests. Advance moves it forward; every call
// to Now after an Advance observes the new instant.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

// NewFake returns a fake clock pinned to t (converted to UTC).
func NewFake(t time.Time) *Fake {
	return &Fake{t: t.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t.UTC()
}

const mintAttempts = 16

// MintID mints a vault-unique entity ID of the form
// <type>-<yyyymmdd>-<hhmm>-<short-random>. exists is probed to guarantee
// uniqueness; on collision a fresh random suffix is drawn.
func MintID(c Clock, entityType string, exists func(id string) bool) (string, error) {
	now := c.Now()
	stamp := now.Format("20060102-1504")
	for i := 0; i < mintAttempts; i++ {
		suffix, err := shortRandom()
		if err != nil {
			return "", err
		}
		id := fmt.Sprintf("%s-%s-%s", entityType, stamp, suffix)
		if exists == nil || !exists(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to mint unique id for %s after %d attempts", entityType, mintAttempts)
}

func shortRandom() (string, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate id suffix: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
