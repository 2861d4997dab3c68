package taxonomy

import (
	"errors"
	"fmt"
)

var (
	// The service has no match for the queried name.
	ErrNoMatch = errors.New("no taxonomic match")
	// The service matched a name but has no taxon record for its id.
	ErrTaxonNotFound = errors.New("taxon not found")
)

// ServiceError is a non-success HTTP response from the taxonomy service.
type ServiceError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// LookupError records an OTU whose taxonomy could not be resolved. It is not
// fatal; the OTU is emitted with an unknown lineage.
type LookupError struct {
	OTU      string
	Query    string
	Attempts int
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("taxonomy lookup for OTU %q (query %q) failed after %d attempt(s): %v", e.OTU, e.Query, e.Attempts, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Reason is a short label for reports.
func (e *LookupError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrNoMatch):
		return "no match"
	case errors.Is(e.Err, ErrTaxonNotFound):
		return "taxon not found"
	default:
		return e.Err.Error()
	}
}

// isNotFound errors are answers, not failures: they are never retried.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNoMatch) || errors.Is(err, ErrTaxonNotFound)
}

// isPermanent errors end the retry loop. Every failed call, whatever its
// status, is retried; only the service's "unknown" answers are final.
func isPermanent(err error) bool {
	return isNotFound(err)
}
