// Package oracle wraps the external reasoning service that judges whether an evidence item
// supports each candidate promise. The adapter builds one request per evidence item, enforces a
// per-call deadline and turns the free-form reply into validated judgments. It never writes
// state; every failure is returned as an *Error for the caller to record.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

//go:generate mockgen -source=adapter.go -destination=mocks/mocks.go -package=mocks Completer

// DefaultTimeout is the per-call deadline applied when none is configured.
const DefaultTimeout = 60 * time.Second

// Completer sends one prompt to a language model and returns its raw reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Adapter turns (evidence, candidates) pairs into oracle judgments.
type Adapter struct {
	completer Completer
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAdapter creates an adapter over completer. A non-positive timeout means DefaultTimeout.
func NewAdapter(completer Completer, timeout time.Duration, logger *zap.Logger) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		completer: completer,
		timeout:   timeout,
		logger:    logger.Named("oracle"),
	}
}

// Judge makes exactly one oracle call for req and returns the parsed judgments.
// A request with no candidates returns no judgments without calling the oracle.
//
// Errors are *Error values (unavailable, timeout or malformed) except when ctx itself is
// cancelled, in which case ctx.Err() is returned unchanged.
func (a *Adapter) Judge(ctx context.Context, req Request) ([]Judgment, error) {
	if len(req.Candidates) == 0 {
		return []Judgment{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	reply, err := a.completer.Complete(callCtx, BuildPrompt(req))
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded || pastDeadline(callCtx) {
			a.logger.Warn("oracle_timeout",
				zap.String("evidence_id", req.EvidenceID),
				zap.Duration("timeout", a.timeout))
			return nil, &Error{Kind: KindTimeout, Err: fmt.Errorf("no reply within %s", a.timeout)}
		}
		a.logger.Warn("oracle_unavailable",
			zap.String("evidence_id", req.EvidenceID),
			zap.Error(err))
		return nil, &Error{Kind: KindUnavailable, Err: err}
	}

	judgments, err := ExtractPayload(reply)
	if err != nil {
		a.logger.Warn("oracle_malformed_reply",
			zap.String("evidence_id", req.EvidenceID),
			zap.Int("reply_bytes", len(reply)),
			zap.Error(err))
		return nil, err
	}

	a.logger.Debug("oracle_judged",
		zap.String("evidence_id", req.EvidenceID),
		zap.Int("candidates", len(req.Candidates)),
		zap.Int("judgments", len(judgments)),
		zap.Duration("elapsed", elapsed))

	return judgments, nil
}

// pastDeadline reports whether ctx's deadline has been reached, even if its Done channel has
// not fired yet.
func pastDeadline(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}
