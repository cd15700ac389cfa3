package domain

import "fmt"

// UpstreamError reports a failed call to the media-management API.
// StatusCode is 0 when the failure happened below HTTP (DNS, timeout).
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream request failed: %s", e.Message)
	}

	return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, e.Message)
}

// UnknownFeedKindError reports a kind outside the fixed enumeration.
type UnknownFeedKindError struct {
	Kind string
}

func (e *UnknownFeedKindError) Error() string {
	return fmt.Sprintf("unknown feed kind: %q", e.Kind)
}

// StorageError wraps a cache or artifact persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
