package compliance

import (
	"errors"
	"fmt"

	"github.com/yairfalse/vigil/pkg/resource"
)

// ErrTransient marks faults worth retrying (throttling, timeouts, 5xx).
// API clients wrap provider errors with it.
var ErrTransient = errors.New("transient provider fault")

// ErrAllPairsFailed is returned by a run in which every pair was aborted.
var ErrAllPairsFailed = errors.New("every scan pair failed")

// ProviderError is an enumeration fault that survived retries. A fault on a
// list page aborts the provider/rule pass; a fault fetching one resource's
// detail carries that resource's ID and skips only that resource.
type ProviderError struct {
	Kind     resource.Kind
	ID       string
	Op       string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Kind, e.Op, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NotFoundError reports a resource deleted between enumeration and detail fetch.
type NotFoundError struct {
	Kind resource.Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// RemediationError reports a failed action application.
type RemediationError struct {
	ID     string
	Action Action
	Err    error
}

func (e *RemediationError) Error() string {
	return fmt.Sprintf("remediate %s with %s: %v", e.ID, e.Action, e.Err)
}

func (e *RemediationError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid setup. It is fatal.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
