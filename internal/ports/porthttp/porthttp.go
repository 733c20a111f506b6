// Package porthttp defines the HTTP port (C5): the two probe operations the
// executor needs, abstracted from any particular transport implementation
// so the link-state machine and executor can be tested against a fake.
package porthttp

import (
	"context"

	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
)

// HeadResult and GetResult are aliases of the model package's value types:
// the link-state transitions (which don't otherwise depend on HTTP) consume
// the same shapes directly, so there is exactly one definition of each.
type (
	HeadResult = model.HeadResult
	GetResult  = model.GetResult
)

// Client is the HTTP port. A non-nil error return means the call was never
// attempted (e.g. the circuit breaker is open); all transport failures and
// HTTP status codes that WERE observed are captured inside the result's
// ErrorKind/Status fields instead, so callers never need to type-switch on
// this error channel to classify an observed outcome.
type Client interface {
	Head(ctx context.Context, url string, cookieHeader string, extraHeaders map[string]string) (HeadResult, error)
	Get(ctx context.Context, url string, cookieHeader string, extraHeaders map[string]string) (GetResult, error)
}
