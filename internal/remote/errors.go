package remote

import (
	"errors"
	"fmt"
)

// ErrPoolClosed indicates the connection pool has been shut down.
var ErrPoolClosed = errors.New("remote: connection pool closed")

// ErrNotExist indicates the remote path does not exist. Callers use it to
// tell a genuinely absent directory from a transport failure.
var ErrNotExist = errors.New("remote: path does not exist")

// FetchError wraps the last underlying error after the retry bound for a
// single file fetch is exhausted.
type FetchError struct {
	Path string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("remote fetch failed for %s: %v", e.Path, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
