// Package remote provides access to the remote cruise inventory file tree.
//
// The tree is laid out as /{period}/{lineid}/{shipid}/{codetocruiseid}.json
// and served over FTP with a hard per-account connection ceiling, so all
// access goes through a small fixed pool.
package remote

import (
	"context"
)

// Entry describes one directory listing entry.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Client lists directories and fetches file contents from the remote store.
// Implementations hold no business state; retries and connection recovery
// happen below this interface so callers never implement their own.
type Client interface {
	List(ctx context.Context, path string) ([]Entry, error)
	Fetch(ctx context.Context, path string) ([]byte, error)
}
