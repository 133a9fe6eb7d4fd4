package datalog

import (
	"log/slog"
	"runtime"
)

// DefaultMaxIterations is the default per-stratum round cap.
const DefaultMaxIterations = 10000

// Option configures Evaluate.
type Option func(*evaluator)

// WithMaxIterations caps the number of semi-naive rounds per stratum.
// Values below one are ignored.
func WithMaxIterations(n int) Option {
	return func(e *evaluator) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithWorkers sets how many relations of one stratum are evaluated in
// parallel. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *evaluator) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger for evaluation progress.
func WithLogger(logger *slog.Logger) Option {
	return func(e *evaluator) {
		e.logger = logger
	}
}

func defaultEvaluator() *evaluator {
	return &evaluator{
		maxIterations: DefaultMaxIterations,
		workers:       runtime.GOMAXPROCS(0),
		logger:        slog.New(slog.DiscardHandler),
	}
}

func (e *evaluator) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}
