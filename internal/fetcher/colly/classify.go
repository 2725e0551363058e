package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gocolly/colly/v2"

	"github.com/arechgie/webarchive/internal/archive"
)

// Classify maps a fetch failure onto the retry policy's error kinds.
// Timeouts and 5xx/429/408 responses are retryable; other 4xx-class
// statuses are permanent, as are malformed-URL and robots rejections.
func Classify(statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", archive.ErrFetchTimeout, err)
	}
	switch {
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: status %d", archive.ErrFetchTransient, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: status %d", archive.ErrFetchTransient, statusCode)
	case statusCode >= 400:
		return fmt.Errorf("%w: status %d", archive.ErrFetchPermanent, statusCode)
	}
	if isPermanentVisitError(err) {
		return fmt.Errorf("%w: %v", archive.ErrFetchPermanent, err)
	}
	// Network-level failures without a status are worth retrying.
	return fmt.Errorf("%w: %v", archive.ErrFetchTransient, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isPermanentVisitError(err error) bool {
	// Colly rejects these before any request goes out; retrying cannot
	// change the outcome.
	for _, sentinel := range []error{
		colly.ErrMissingURL,
		colly.ErrForbiddenDomain,
		colly.ErrRobotsTxtBlocked,
		colly.ErrForbiddenURL,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
