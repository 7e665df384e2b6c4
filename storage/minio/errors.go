package minio

import (
	"fmt"
	"io/fs"

	"github.com/minio/minio-go/v7"
)

// translate maps S3 error responses onto fs sentinel errors so the host
// can classify them.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fs.ErrNotExist
	case "AccessDenied":
		return fs.ErrPermission
	}
	return fmt.Errorf("minio: %w", err)
}

func pathError(op, p string, err error) error {
	if err == nil {
		return nil
	}
	return &fs.PathError{Op: op, Path: p, Err: err}
}
