package datalayer

import (
	"context"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/clipcast/clipcast/internal/config"
)

type PutOptions struct {
	Size        int64
	ContentType string
}

// BlobStorage mirrors clip files to object storage. The mirror is
// optional and advisory: a nil BlobStorage disables it, and callers
// treat every error as a degraded-but-working state.
type BlobStorage interface {
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
}

type MinioStorage struct {
	client *minio.Client
	bucket string
}

func NewMinioStorage(cfg *config.MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Username, cfg.Password, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	return &MinioStorage{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	// If the bucket is already owned, succeed
	if err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return err
	}
	return nil
}

var _ BlobStorage = (*MinioStorage)(nil)

func (s *MinioStorage) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, data, opts.Size, minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	return err
}

func (s *MinioStorage) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// MirrorFile uploads a local file under key. Used after a successful
// download so a wiped host can later restore its library.
func MirrorFile(ctx context.Context, blobs BlobStorage, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	return blobs.Put(ctx, key, f, PutOptions{
		Size:        info.Size(),
		ContentType: "application/octet-stream",
	})
}

// RestoreFile downloads key into path. Used when clip metadata exists
// but the local file has gone missing.
func RestoreFile(ctx context.Context, blobs BlobStorage, key, path string) error {
	obj, err := blobs.Fetch(ctx, key)
	if err != nil {
		return err
	}
	defer obj.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, obj); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
