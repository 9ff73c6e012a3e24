// Package memfs provides an in-memory ocfl/fs backend, mostly for tests. It
// is a cloud.FS over gocloud.dev's memblob bucket, so it exercises the same
// code paths as a real object-store backend.
package memfs

import (
	"context"
	"io"

	"github.com/ocflcore/ocfl/fs/cloud"
	"gocloud.dev/blob/memblob"
)

type FS struct {
	*cloud.FS
}

func New() *FS {
	return &FS{
		FS: cloud.NewFS(memblob.OpenBucket(nil)),
	}
}

// NewWith returns a new FS with the contents of cont written to it. Map keys
// are file paths. Readers that implement io.Closer are closed.
func NewWith(cont map[string]io.Reader) (*FS, error) {
	ctx := context.Background()
	fsys := New()
	for p, reader := range cont {
		if _, err := fsys.Write(ctx, p, reader); err != nil {
			return nil, err
		}
		if closer, ok := reader.(io.Closer); ok {
			closer.Close()
		}
	}
	return fsys, nil
}
