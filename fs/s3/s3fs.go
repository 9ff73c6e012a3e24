// Package s3 implements an ocfl/fs backend for S3 buckets using the AWS SDK
// directly, without the gocloud.dev portability layer. Use it when S3-specific
// client configuration (custom endpoints, request options) matters; otherwise
// the cloud backend with an s3blob bucket covers the same ground.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	ocflfs "github.com/ocflcore/ocfl/fs"
)

// copies larger than this require multipart copy, which isn't implemented
const maxCopyBytes = 5_368_709_120

// BucketFS is an ocfl/fs backend for a single S3 bucket. Paths are object
// keys; "directories" are key prefixes.
type BucketFS struct {
	cl     s3iface.S3API
	bucket string
}

var (
	_ ocflfs.WriteFS      = (*BucketFS)(nil)
	_ ocflfs.ReplaceFS    = (*BucketFS)(nil)
	_ ocflfs.CopyFS       = (*BucketFS)(nil)
	_ ocflfs.DirEntriesFS = (*BucketFS)(nil)
)

func New(cl s3iface.S3API, bucket string) *BucketFS {
	return &BucketFS{
		cl:     cl,
		bucket: bucket,
	}
}

// Bucket returns the name of the S3 bucket backing fsys.
func (fsys *BucketFS) Bucket() string {
	return fsys.bucket
}

func (fsys *BucketFS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	if !fs.ValidPath(name) || name == "." {
		return nil, &fs.PathError{
			Op:   "openfile",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	out, err := fsys.cl.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &fsys.bucket,
		Key:    &name,
	})
	if err != nil {
		if isNotFoundErr(err) {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return nil, &fs.PathError{
			Op:   "openfile",
			Path: name,
			Err:  err,
		}
	}
	return &file{
		ReadCloser: out.Body,
		info: &fileInfo{
			name:    path.Base(name),
			size:    derefInt64(out.ContentLength),
			mode:    fs.ModeIrregular,
			modTime: derefTime(out.LastModified),
		},
	}, nil
}

// DirEntries implements ocflfs.DirEntriesFS. S3 has no real directories: a
// directory exists if at least one key uses it as a prefix, and an empty
// listing for any name other than "." yields fs.ErrNotExist.
func (fsys *BucketFS) DirEntries(ctx context.Context, name string) iter.Seq2[fs.DirEntry, error] {
	return func(yield func(fs.DirEntry, error) bool) {
		if !fs.ValidPath(name) {
			yield(nil, &fs.PathError{
				Op:   "readdir",
				Path: name,
				Err:  fs.ErrInvalid,
			})
			return
		}
		in := &s3.ListObjectsV2Input{
			Bucket:    &fsys.bucket,
			Delimiter: aws.String("/"),
		}
		if name != "." {
			in.Prefix = aws.String(name + "/")
		}
		var entries []fs.DirEntry
		eachPage := func(out *s3.ListObjectsV2Output, last bool) bool {
			for _, c := range out.Contents {
				entries = append(entries, &fileInfo{
					name:    path.Base(*c.Key),
					size:    derefInt64(c.Size),
					mode:    fs.ModeIrregular,
					modTime: derefTime(c.LastModified),
				})
			}
			for _, p := range out.CommonPrefixes {
				entries = append(entries, &fileInfo{
					name: path.Base(*p.Prefix),
					mode: fs.ModeDir,
				})
			}
			return true
		}
		if err := fsys.cl.ListObjectsV2PagesWithContext(ctx, in, eachPage); err != nil {
			yield(nil, &fs.PathError{
				Op:   "readdir",
				Path: name,
				Err:  err,
			})
			return
		}
		if len(entries) == 0 && name != "." {
			yield(nil, &fs.PathError{
				Op:   "readdir",
				Path: name,
				Err:  fs.ErrNotExist,
			})
			return
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Name() < entries[j].Name()
		})
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Write uploads r to a new object at key name, failing if the key already
// exists. S3 PUTs are atomic at the key level: readers see the previous
// state of the key until the upload completes, never partial contents.
func (fsys *BucketFS) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	if !fs.ValidPath(name) || name == "." {
		return 0, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	_, err := fsys.cl.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &fsys.bucket,
		Key:    &name,
	})
	switch {
	case err == nil:
		return 0, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  fs.ErrExist,
		}
	case !isNotFoundErr(err):
		return 0, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  err,
		}
	}
	return fsys.upload(ctx, name, r)
}

// Replace uploads r to key name, replacing any existing object.
func (fsys *BucketFS) Replace(ctx context.Context, name string, r io.Reader) (int64, error) {
	if !fs.ValidPath(name) || name == "." {
		return 0, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	return fsys.upload(ctx, name, r)
}

func (fsys *BucketFS) upload(ctx context.Context, name string, r io.Reader) (int64, error) {
	uploader := s3manager.NewUploaderWithClient(fsys.cl)
	_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Body:   r,
		Bucket: &fsys.bucket,
		Key:    &name,
	})
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	head, err := fsys.cl.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &fsys.bucket,
		Key:    &name,
	})
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	return derefInt64(head.ContentLength), nil
}

func (fsys *BucketFS) Remove(ctx context.Context, name string) error {
	if !fs.ValidPath(name) || name == "." {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	_, err := fsys.cl.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &fsys.bucket,
		Key:    &name,
	})
	if err != nil {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  err,
		}
	}
	return nil
}

func (fsys *BucketFS) RemoveAll(ctx context.Context, name string) error {
	if !fs.ValidPath(name) || name == "." {
		return &fs.PathError{
			Op:   "remove_all",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	in := &s3.ListObjectsV2Input{
		Bucket: &fsys.bucket,
		Prefix: aws.String(name + "/"),
	}
	var pageErr error
	eachPage := func(out *s3.ListObjectsV2Output, last bool) bool {
		for _, o := range out.Contents {
			_, err := fsys.cl.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
				Bucket: &fsys.bucket,
				Key:    o.Key,
			})
			if err != nil {
				pageErr = err
				return false
			}
		}
		return true
	}
	if err := fsys.cl.ListObjectsV2PagesWithContext(ctx, in, eachPage); err != nil {
		return &fs.PathError{
			Op:   "remove_all",
			Path: name,
			Err:  err,
		}
	}
	if pageErr != nil {
		return &fs.PathError{
			Op:   "remove_all",
			Path: name,
			Err:  pageErr,
		}
	}
	return nil
}

// Copy implements ocflfs.CopyFS using S3's server-side CopyObject.
func (fsys *BucketFS) Copy(ctx context.Context, dst, src string) (int64, error) {
	for _, p := range [2]string{dst, src} {
		if !fs.ValidPath(p) || p == "." {
			return 0, &fs.PathError{
				Op:   "copy",
				Path: p,
				Err:  fs.ErrInvalid,
			}
		}
	}
	head, err := fsys.cl.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &fsys.bucket,
		Key:    &src,
	})
	if err != nil {
		if isNotFoundErr(err) {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return 0, &fs.PathError{
			Op:   "copy",
			Path: src,
			Err:  err,
		}
	}
	size := derefInt64(head.ContentLength)
	if size > maxCopyBytes {
		return 0, &fs.PathError{
			Op:   "copy",
			Path: src,
			Err:  fmt.Errorf("copies larger than %d bytes not supported", maxCopyBytes),
		}
	}
	_, err = fsys.cl.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     &fsys.bucket,
		Key:        &dst,
		CopySource: aws.String(path.Join(fsys.bucket, src)),
	})
	if err != nil {
		return 0, &fs.PathError{
			Op:   "copy",
			Path: dst,
			Err:  err,
		}
	}
	return size, nil
}

var notFoundCodes = map[string]struct{}{
	s3.ErrCodeNoSuchKey: {},
	"NotFound":          {},
}

func isNotFoundErr(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		_, ok := notFoundCodes[aerr.Code()]
		return ok
	}
	return false
}
