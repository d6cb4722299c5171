package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/sony/gobreaker"

	"outreach/internal/domain"
)

// PermanentError is implemented by sender errors that no retry of the same
// job can fix, such as a gateway rejecting the payload.
type PermanentError interface {
	Permanent() bool
}

// BreakerSuccess reports whether err leaves the provider's health untouched.
// Only transient transport failures count against a breaker.
func BreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, ErrNoRoute) || errors.Is(err, context.Canceled) {
		return true
	}
	var p PermanentError
	return errors.As(err, &p) && p.Permanent()
}

// Breakers keeps one circuit breaker per channel, so a failing transport
// only holds back jobs on its own channel.
type Breakers struct {
	settings gobreaker.Settings

	mu        sync.Mutex
	byChannel map[domain.Channel]*gobreaker.CircuitBreaker
}

// NewBreakers builds breakers lazily from st. st.Name is used as a prefix;
// a nil IsSuccessful defaults to BreakerSuccess.
func NewBreakers(st gobreaker.Settings) *Breakers {
	if st.IsSuccessful == nil {
		st.IsSuccessful = BreakerSuccess
	}
	if st.Name == "" {
		st.Name = "sender"
	}
	return &Breakers{settings: st, byChannel: map[domain.Channel]*gobreaker.CircuitBreaker{}}
}

func (b *Breakers) For(ch domain.Channel) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.byChannel[ch]; ok {
		return cb
	}
	st := b.settings
	st.Name = b.settings.Name + ":" + string(ch)
	cb := gobreaker.NewCircuitBreaker(st)
	b.byChannel[ch] = cb
	return cb
}
