package health

import (
	"fmt"
	"time"

	"meld_bot/internal/core"
)

// marketFeed is the slice of an exchange loop the freshness check reads
type marketFeed interface {
	Name() string
	LastFetchUnixNano() int64
}

// FetchFreshness builds a check that fails while an exchange loop has
// never landed market data, or when its last snapshot is older than
// maxAge. A few loop intervals is a sensible maxAge.
func FetchFreshness(feed marketFeed, maxAge time.Duration) func() error {
	return func() error {
		ns := feed.LastFetchUnixNano()
		if ns == 0 {
			return fmt.Errorf("%s: no market data fetched yet", feed.Name())
		}
		if age := time.Since(time.Unix(0, ns)); age > maxAge {
			return fmt.Errorf("%s: market data stale for %s", feed.Name(), age.Round(time.Millisecond))
		}
		return nil
	}
}

// breakerReporter is implemented by connectors built on the resilient
// HTTP client
type breakerReporter interface {
	BreakerOpen() bool
}

// VenueBreaker builds a check that fails while a connector's venue
// circuit breaker is open. The second return is false for connectors
// without one (the mock, SDK-backed venues).
func VenueBreaker(conn core.IConnector) (func() error, bool) {
	reporter, ok := conn.(breakerReporter)
	if !ok {
		return nil, false
	}
	return func() error {
		if reporter.BreakerOpen() {
			return fmt.Errorf("%s: venue circuit breaker open", conn.GetName())
		}
		return nil
	}, true
}
