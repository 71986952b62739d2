// Package notify delivers task completion and failure messages to the
// configured destinations. Destinations are URLs understood by
// go-pkgz/notify: mailto:, slack:, telegram: and http(s) webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
)

// Service fans a message out to all destinations.
type Service struct {
	destinations []string
	onError      bool
	onCompletion bool
	timeout      time.Duration

	sendFn func(ctx context.Context, destination, text string) error // replaceable in tests
}

// Params configures the notification service.
type Params struct {
	Destinations []string // notify destination URLs
	OnError      bool
	OnCompletion bool
	Timeout      time.Duration
}

// NewService creates a notification service. Returns nil if no destination
// is configured or both triggers are disabled, callers treat nil as "no
// notifications".
func NewService(p Params) *Service {
	if len(p.Destinations) == 0 || (!p.OnError && !p.OnCompletion) {
		return nil
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		destinations: p.Destinations,
		onError:      p.OnError,
		onCompletion: p.OnCompletion,
		timeout:      timeout,
		sendFn: func(ctx context.Context, destination, text string) error {
			return notify.Send(ctx, nil, destination, text)
		},
	}
}

// IsOnError reports whether failure notifications are enabled.
func (s *Service) IsOnError() bool { return s.onError }

// IsOnCompletion reports whether completion notifications are enabled.
func (s *Service) IsOnCompletion() bool { return s.onCompletion }

// Send delivers the text to every destination, collecting errors.
func (s *Service) Send(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var errs []error
	for _, dest := range s.destinations {
		if err := s.sendFn(ctx, dest, text); err != nil {
			errs = append(errs, fmt.Errorf("send to %s failed: %w", dest, err))
			continue
		}
		log.Printf("[DEBUG] notification sent to %s", dest)
	}
	return errors.Join(errs...)
}
