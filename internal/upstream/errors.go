package upstream

import "fmt"

// FetchKind classifies a failed fetch after retries are exhausted.
type FetchKind string

const (
	FetchTimeout     FetchKind = "timeout"
	FetchServerError FetchKind = "server_error"
	FetchClientError FetchKind = "client_error"
	FetchNetwork     FetchKind = "network"
)

// FetchError is the terminal error for a single endpoint fetch. Attempts is
// the number of tries actually made before giving up.
type FetchError struct {
	Kind     FetchKind
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed (%s after %d attempts): %v", e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
