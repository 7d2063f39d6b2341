package config

import (
	"context"
	"sync"
	"time"

	"proxywaf/waf"
)

// PollingToken is the change token of a source that cannot push notifications.
var PollingToken waf.ChangeToken = pollingToken{}

type pollingToken struct{}

func (pollingToken) Changed() <-chan struct{} { return nil }

// ChannelToken is a change token that fires when Signal is called.
type ChannelToken struct {
	ch   chan struct{}
	once sync.Once
}

// NewChannelToken creates a token that has not fired yet.
func NewChannelToken() *ChannelToken {
	return &ChannelToken{ch: make(chan struct{})}
}

// Changed implements waf.ChangeToken.
func (t *ChannelToken) Changed() <-chan struct{} {
	return t.ch
}

// Signal fires the token. Later calls do nothing.
func (t *ChannelToken) Signal() {
	t.once.Do(func() { close(t.ch) })
}

// Fired reports whether the token has fired.
func (t *ChannelToken) Fired() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// SupportsPush reports whether token will ever fire on its own.
func SupportsPush(token waf.ChangeToken) bool {
	return token != nil && token.Changed() != nil
}

// WaitForChange blocks until one of the tokens fires, ctx is done, or poll elapses. A poll of zero or less waits without
// a timer. It returns false only when ctx is done.
func WaitForChange(ctx context.Context, tokens []waf.ChangeToken, poll time.Duration) bool {
	fired := make(chan struct{}, 1)
	stop := make(chan struct{})
	defer close(stop)

	for _, t := range tokens {
		if !SupportsPush(t) {
			continue
		}

		go func(ch <-chan struct{}) {
			select {
			case <-ch:
				select {
				case fired <- struct{}{}:
				default:
				}
			case <-stop:
			}
		}(t.Changed())
	}

	var timeout <-chan time.Time
	if poll > 0 {
		timer := time.NewTimer(poll)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-fired:
	case <-timeout:
	}
	return true
}
