// Package scorer is the boundary to the external ranking service. The service decides
// how scores are computed; this package only carries requests and classifies failures.
package scorer

import (
	"context"
	"errors"
	"fmt"
)

// Request asks the scorer to rank content for one user.
type Request struct {
	UserID            string `json:"user_id"`
	Trigger           string `json:"trigger"`
	Limit             int    `json:"limit"`
	SmartCache        *bool  `json:"smart_cache,omitempty"`
	ForceRegeneration *bool  `json:"force_regeneration,omitempty"`
}

// ScoredItem is one ranked item returned by the scorer.
type ScoredItem struct {
	ItemID int64   `json:"item_id"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// Response is the scorer's answer. Items may be omitted when the scorer only reports counts.
type Response struct {
	Success    bool         `json:"success"`
	CacheItems *int         `json:"cache_items,omitempty"`
	Error      string       `json:"error,omitempty"`
	Items      []ScoredItem `json:"items,omitempty"`
}

// Scorer invokes the external ranking service once per user.
type Scorer interface {
	Score(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a plain function to the Scorer interface.
type Func func(ctx context.Context, req Request) (*Response, error)

// Score calls f.
func (f Func) Score(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// ErrorKind classifies scorer invocation failures.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindRejected  ErrorKind = "rejected"
	KindScorer    ErrorKind = "scorer"
)

// InvocationError reports a failed or timed-out scorer call for one user.
type InvocationError struct {
	Kind ErrorKind
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Classify converts any error returned by a Scorer into an InvocationError.
// Deadline errors become KindTimeout regardless of where they were raised.
func Classify(err error) *InvocationError {
	if err == nil {
		return nil
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		if invErr.Kind != KindTimeout && errors.Is(err, context.DeadlineExceeded) {
			return &InvocationError{Kind: KindTimeout, Err: invErr.Err}
		}
		return invErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &InvocationError{Kind: KindTimeout, Err: err}
	}
	return &InvocationError{Kind: KindTransport, Err: err}
}

// Bool returns a pointer to b for the optional request flags.
func Bool(b bool) *bool {
	return &b
}
