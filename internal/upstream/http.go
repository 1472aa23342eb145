// Package upstream holds HTTP clients for the external collaborators the
// engine reads from: the content store and the spam classifier.
package upstream

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// zerologLeveled adapts zerolog to retryablehttp.LeveledLogger
type zerologLeveled struct {
	logger zerolog.Logger
}

func fields(ev *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			ev = ev.Interface(k, keysAndValues[i+1])
		}
	}
	return ev
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l zerologLeveled) Error(msg string, keysAndValues ...interface{}) {
	fields(l.logger.Warn(), keysAndValues).Msg(msg)
}

func (l zerologLeveled) Warn(msg string, keysAndValues ...interface{}) {
	fields(l.logger.Warn(), keysAndValues).Msg(msg)
}

func (l zerologLeveled) Info(msg string, keysAndValues ...interface{}) {
	fields(l.logger.Info(), keysAndValues).Msg(msg)
}

func (l zerologLeveled) Debug(msg string, keysAndValues ...interface{}) {
	fields(l.logger.Debug(), keysAndValues).Msg(msg)
}

// NewHTTPClient returns a client that retries connection errors, 5xx (except 501)
// and 429 responses, honoring Retry-After, and traces every attempt.
func NewHTTPClient(retryMax int, timeout time.Duration) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(zerologLeveled{logger: log.Logger.With().Str("component", "upstream").Logger()})
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(retryClient.HTTPClient.Transport)

	client := retryClient.StandardClient()
	client.Timeout = timeout
	return client
}
