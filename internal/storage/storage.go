package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist 表示底层对象不存在，调用方应将其视为 not found 而非服务端故障。
var ErrNotExist = errors.New("blob does not exist")

// BlobStore 以服务端生成的名称保存上传内容，与用户提供的文件名解耦。
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Remove(ctx context.Context, name string) error
}
