// Package reporter forwards unexpected failures to Sentry.
package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// Sentry reports errors to a dedicated hub. A zero value or a reporter
// created with an empty DSN drops everything.
type Sentry struct {
	hub *sentry.Hub
}

type Options struct {
	DSN         string
	Release     string
	Environment string

	// BeforeSend lets callers inspect or drop events, nil keeps them all
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

func NewSentry(opts Options) (*Sentry, error) {
	if opts.DSN == "" {
		return &Sentry{}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Release:          opts.Release,
		Environment:      opts.Environment,
		AttachStacktrace: true,
		BeforeSend:       opts.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sentry client: %w", err)
	}

	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *Sentry) Enabled() bool {
	return s != nil && s.hub != nil
}

// Report sends err tagged with the given key/value pairs.
func (s *Sentry) Report(err error, tags map[string]string) {
	if !s.Enabled() || err == nil {
		return
	}

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		s.hub.CaptureException(err)
	})
}

// Recover reports a value obtained from recover().
func (s *Sentry) Recover(v any, tags map[string]string) {
	if !s.Enabled() || v == nil {
		return
	}

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		s.hub.Recover(v)
	})
}

func (s *Sentry) Flush(timeout time.Duration) {
	if !s.Enabled() {
		return
	}
	s.hub.Flush(timeout)
}

// Redact returns a BeforeSend hook that masks every non-empty secret in the
// event message and exception values. Bot API errors carry the token in the
// request URL.
func Redact(secrets ...string) func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	pairs := make([]string, 0, len(secrets)*2)
	for _, s := range secrets {
		if s != "" {
			pairs = append(pairs, s, "[redacted]")
		}
	}
	replacer := strings.NewReplacer(pairs...)

	return func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		if len(pairs) == 0 {
			return event
		}

		event.Message = replacer.Replace(event.Message)
		for i := range event.Exception {
			event.Exception[i].Value = replacer.Replace(event.Exception[i].Value)
		}

		return event
	}
}
