package identity

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Policy controls when the rotator hands out a new profile.
type Policy string

const (
	// PerRequest picks a fresh profile for every fetch and again after a
	// block or network failure.
	PerRequest Policy = "per-request"
	// PerAttempt picks a fresh profile before every attempt.
	PerAttempt Policy = "per-attempt"
	// Sticky keeps the configured default profile for the whole session.
	Sticky Policy = "sticky"
)

// ParsePolicy accepts the policy names case-insensitively, with "_" or "-".
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")) {
	case "", PerRequest:
		return PerRequest, nil
	case PerAttempt:
		return PerAttempt, nil
	case Sticky:
		return Sticky, nil
	}
	return "", fmt.Errorf("unknown rotation policy %q", s)
}

// Rotator hands out identity profiles according to a Policy.
type Rotator struct {
	mu      sync.Mutex
	policy  Policy
	pool    []Profile
	current Profile
	rng     *rand.Rand
	// issued is set once the configured profile has been handed out.
	issued bool
}

// NewRotator creates a rotator starting on the named default profile.
func NewRotator(defaultName string, policy Policy) (*Rotator, error) {
	return NewRotatorWithSource(defaultName, policy, rand.NewSource(time.Now().UnixNano()))
}

// NewRotatorWithSource is NewRotator with a caller-supplied random source.
func NewRotatorWithSource(defaultName string, policy Policy, src rand.Source) (*Rotator, error) {
	if defaultName == "" {
		defaultName = DefaultProfile
	}
	def, ok := Lookup(defaultName)
	if !ok {
		return nil, fmt.Errorf("unknown impersonation profile %q", defaultName)
	}
	if policy == "" {
		policy = PerRequest
	}
	return &Rotator{
		policy:  policy,
		pool:    All(),
		current: def,
		rng:     rand.New(src),
	}, nil
}

func (r *Rotator) Policy() Policy {
	return r.policy
}

// Current returns the profile in use without rotating.
func (r *Rotator) Current() Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// BeginRequest is called once per logical fetch. The first request always
// uses the configured profile.
func (r *Rotator) BeginRequest() Profile {
	if r.policy == PerRequest {
		return r.advance()
	}
	return r.Current()
}

// BeginAttempt is called before every attempt of a fetch. The first attempt
// always uses the configured profile.
func (r *Rotator) BeginAttempt() Profile {
	if r.policy == PerAttempt {
		return r.advance()
	}
	return r.Current()
}

// OnFailure is called after a block or network failure.
func (r *Rotator) OnFailure() Profile {
	if r.policy == PerRequest {
		return r.rotate()
	}
	return r.Current()
}

// advance hands out the configured profile the first time and rotates on
// every later call.
func (r *Rotator) advance() Profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.issued {
		r.issued = true
		return r.current
	}
	return r.rotateLocked()
}

// rotate switches to a profile different from the current one.
func (r *Rotator) rotate() Profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.issued = true
	return r.rotateLocked()
}

func (r *Rotator) rotateLocked() Profile {
	if len(r.pool) < 2 {
		return r.current
	}
	for {
		next := r.pool[r.rng.Intn(len(r.pool))]
		if next != r.current {
			r.current = next
			return next
		}
	}
}
