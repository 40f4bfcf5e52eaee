package backend

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	mi "github.com/taskweave/taskweave/internal/metrics"
	"github.com/taskweave/taskweave/metrics"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	// Clock is the time source used for event timestamps. Tests inject a
	// mock clock here.
	Clock clock.Clock
}

func DefaultOptions() *Options {
	return &Options{
		Logger:         slog.Default(),
		Metrics:        mi.NewNoopMetricsClient(),
		TracerProvider: noop.NewTracerProvider(),
		Clock:          clock.New(),
	}
}

type BackendOption func(*Options)

func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) BackendOption {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) BackendOption {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithClock(c clock.Clock) BackendOption {
	return func(o *Options) {
		o.Clock = c
	}
}

func ApplyOptions(opts ...BackendOption) *Options {
	options := DefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return options
}
