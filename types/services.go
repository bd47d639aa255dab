package types

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/scoring"
)

// Metrics is the write-only side channel nodes report to.
type Metrics interface {
	Increment(key string)
	RecordRisk(score int)
}

// VelocityCache counts recent events per identifier. Append prunes entries
// older than window relative to at, records at, and returns the resulting
// count as one atomic step.
type VelocityCache interface {
	Append(ctx context.Context, identifier string, at time.Time, window time.Duration) (int, error)
}

// Services are the collaborators injected into every node. Any of them may
// be nil; nodes degrade instead of failing.
type Services struct {
	Metrics       Metrics
	VelocityCache VelocityCache
	Scoring       *scoring.Guard
	Clock         func() time.Time
	Logger        log.FieldLogger
}

func (s *Services) Now() time.Time {
	if s == nil || s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

func (s *Services) Log() log.FieldLogger {
	if s == nil || s.Logger == nil {
		return log.StandardLogger()
	}
	return s.Logger
}

func (s *Services) Increment(key string) {
	if s == nil || s.Metrics == nil {
		return
	}
	s.Metrics.Increment(key)
}

func (s *Services) RecordRisk(score int) {
	if s == nil || s.Metrics == nil {
		return
	}
	s.Metrics.RecordRisk(score)
}
