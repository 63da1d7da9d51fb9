package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/greenshelf/strainscan/internal/providers"
)

// OutcomeKind tags how an inference stage settled
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeParseError
	OutcomeTimeout
	OutcomeCallError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeParseError:
		return "parse_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCallError:
		return "call_error"
	}
	return "unknown"
}

// Outcome is the result of one inference stage. Value is only meaningful on success.
type Outcome[T any] struct {
	Kind  OutcomeKind
	Value T
	Raw   string
	Err   error
}

// OK reports whether the stage succeeded
func (o Outcome[T]) OK() bool {
	return o.Kind == OutcomeSuccess
}

// invoke runs one provider call under the stage timeout and decodes its reply.
// It never panics or returns an error; every failure is folded into the Outcome.
func invoke[T any](ctx context.Context, s *Service, cfg providers.Config, decode func(string) (T, error)) Outcome[T] {
	callCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	raw, err := s.provider.ExtractText(callCtx, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Outcome[T]{Kind: OutcomeTimeout, Err: fmt.Errorf("inference timed out after %s: %w", s.stageTimeout, err)}
		}
		return Outcome[T]{Kind: OutcomeCallError, Err: err}
	}
	if strings.TrimSpace(raw) == "" {
		return Outcome[T]{Kind: OutcomeCallError, Err: providers.ErrEmptyResponse}
	}

	value, err := decode(raw)
	if err != nil {
		return Outcome[T]{Kind: OutcomeParseError, Raw: raw, Err: err}
	}
	return Outcome[T]{Kind: OutcomeSuccess, Value: value, Raw: raw}
}
