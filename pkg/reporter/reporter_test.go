package reporter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentry_Disabled(t *testing.T) {
	rep, err := NewSentry(Options{})
	require.NoError(t, err)

	assert.False(t, rep.Enabled())

	// must not panic
	rep.Report(errors.New("boom"), nil)
	rep.Recover("boom", nil)
	rep.Flush(time.Millisecond)

	var nilRep *Sentry
	assert.False(t, nilRep.Enabled())
	nilRep.Report(errors.New("boom"), nil)
}

func TestSentry_ReportTags(t *testing.T) {
	var mu sync.Mutex
	var events []*sentry.Event

	rep, err := NewSentry(Options{
		DSN: "https://public@sentry.example.com/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	require.True(t, rep.Enabled())

	rep.Report(errors.New("yt-dlp exited"), map[string]string{"stage": "download"})
	rep.Report(nil, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "download", events[0].Tags["stage"])
	require.NotEmpty(t, events[0].Exception)
	assert.Equal(t, "yt-dlp exited", events[0].Exception[len(events[0].Exception)-1].Value)
}

func TestRedact(t *testing.T) {
	var mu sync.Mutex
	var events []*sentry.Event

	redact := Redact("123:secret", "")

	rep, err := NewSentry(Options{
		DSN: "https://public@sentry.example.com/1",
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			event = redact(event, hint)
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)

	rep.Report(errors.New(`Post "https://api.telegram.org/bot123:secret/sendVideo": timeout`), nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	for _, ex := range events[0].Exception {
		assert.NotContains(t, ex.Value, "123:secret")
	}
	assert.Contains(t, events[0].Exception[len(events[0].Exception)-1].Value, "bot[redacted]/sendVideo")

	// no secrets leaves events untouched
	event := &sentry.Event{Message: "plain"}
	assert.Equal(t, "plain", Redact("")(event, nil).Message)
}
