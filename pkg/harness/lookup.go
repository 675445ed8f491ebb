package harness

import (
	"context"
	"net/url"

	"github.com/openfroyo/harnessctl/pkg/engine"
)

// LookupState is the outcome of an existence check.
type LookupState int

const (
	// LookupNotFound means the resource does not exist.
	LookupNotFound LookupState = iota
	// LookupFound means the resource exists.
	LookupFound
	// LookupError means the check itself failed, so existence is unknown.
	LookupError
)

func (s LookupState) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// Lookup is the tagged result of a GET by identifier.
type Lookup struct {
	State    LookupState
	Response *Response
	Err      error
}

// Lookup checks whether the resource at path exists. A 404, or a 200 that
// carries no data object, is NotFound. Any other failure is LookupError and
// keeps its cause.
func (c *Client) Lookup(ctx context.Context, path string, query url.Values) Lookup {
	resp, err := c.Get(ctx, path, query)
	switch {
	case err == nil && resp.HasData():
		return Lookup{State: LookupFound, Response: resp}
	case err == nil:
		return Lookup{State: LookupNotFound, Response: resp}
	case engine.IsNotFound(err):
		return Lookup{State: LookupNotFound}
	default:
		return Lookup{State: LookupError, Err: err}
	}
}
