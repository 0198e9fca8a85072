package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
)

const (
	defaultCounterAttempts = 3
	minCounterPadLength    = 2
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
	// Prefixes maps a sequence name to the prefix of formatted identifiers.
	Prefixes    map[string]string
	PadLength   int
	MaxAttempts int
	Backoff     gax.Backoff
	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep   func(context.Context, time.Duration) error
	Logger  Logger
	Metrics Metrics
}

type counterService struct {
	repo        repositories.CounterRepository
	clock       func() time.Time
	prefixes    map[string]string
	padLength   int
	maxAttempts int
	backoff     gax.Backoff
	sleep       func(context.Context, time.Duration) error
	logger      Logger
	metrics     Metrics
}

// DefaultSequencePrefixes are used when no prefix is configured.
var DefaultSequencePrefixes = map[string]string{
	domain.OrderSequence:  "ORD-",
	domain.ReturnSequence: "RET-",
}

// NewCounterService constructs a service that issues sequence numbers on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	prefixes := make(map[string]string, len(DefaultSequencePrefixes)+len(deps.Prefixes))
	for name, prefix := range DefaultSequencePrefixes {
		prefixes[name] = prefix
	}
	for name, prefix := range deps.Prefixes {
		prefixes[name] = prefix
	}

	pad := deps.PadLength
	if pad < minCounterPadLength {
		pad = minCounterPadLength
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultCounterAttempts
	}
	backoff := deps.Backoff
	if backoff.Initial <= 0 {
		backoff = gax.Backoff{Initial: 20 * time.Millisecond, Max: 500 * time.Millisecond, Multiplier: 2}
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = gax.Sleep
	}

	return &counterService{
		repo:        deps.Repository,
		clock:       utcClock(deps.Clock),
		prefixes:    prefixes,
		padLength:   pad,
		maxAttempts: attempts,
		backoff:     backoff,
		sleep:       sleep,
		logger:      loggerOrNoop(deps.Logger),
		metrics:     metricsOrNoop(deps.Metrics),
	}, nil
}

func (s *counterService) Next(ctx context.Context, namespace string) (SequenceValue, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return SequenceValue{}, fmt.Errorf("%w: namespace is required", ErrCounterInvalidInput)
	}

	backoff := s.backoff
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		value, err := s.repo.Next(ctx, namespace, 1)
		if err == nil {
			return SequenceValue{Value: value, Formatted: s.format(namespace, value)}, nil
		}
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return SequenceValue{}, fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < s.maxAttempts {
			if err := s.sleep(ctx, backoff.Pause()); err != nil {
				break
			}
		}
	}

	// Keep placement moving when the counter store is unavailable. The value is
	// unique in practice but no longer gap-free.
	fallback := s.clock().UnixMilli()
	s.metrics.SequenceFallback(namespace)
	s.logger(ctx, "sequence_fallback", map[string]any{
		"namespace": namespace,
		"value":     fallback,
		"error":     errorString(lastErr),
	})
	return SequenceValue{Value: fallback, Formatted: s.format(namespace, fallback), Fallback: true}, nil
}

func (s *counterService) NextID(ctx context.Context, namespace string) (string, error) {
	value, err := s.Next(ctx, namespace)
	if err != nil {
		return "", err
	}
	return value.Formatted, nil
}

func (s *counterService) format(namespace string, value int64) string {
	return fmt.Sprintf("%s%0*d", s.prefixes[namespace], s.padLength, value)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
