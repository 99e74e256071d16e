package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	sentrylogrus "github.com/getsentry/sentry-go/logrus"
	log "github.com/sirupsen/logrus"
)

const flushTimeout = 5 * time.Second

var reportedLevels = []log.Level{log.ErrorLevel, log.FatalLevel, log.PanicLevel}

// InitSentry forwards error level logs to sentry. The returned func flushes
// pending events and must be called before exiting.
func InitSentry(dsn, environment, release string) (func(), error) {
	opts := sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	}
	if err := sentry.Init(opts); err != nil {
		return nil, fmt.Errorf("failed to init sentry: %w", err)
	}

	hook, err := sentrylogrus.New(reportedLevels, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry hook: %w", err)
	}
	log.AddHook(hook)

	return func() {
		sentry.Flush(flushTimeout)
		hook.Flush(flushTimeout)
	}, nil
}
