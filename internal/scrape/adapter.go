package scrape

import (
	"context"
	"errors"

	"dealwatch/internal/deal"
)

// ErrSourceUnavailable wraps network and parse failures from a single
// deal source. One unavailable source never aborts the whole scan.
var ErrSourceUnavailable = errors.New("deal source unavailable")

// Adapter fetches raw listings from one deal source.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context) ([]deal.RawListing, error)
}
