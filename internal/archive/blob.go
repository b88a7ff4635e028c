package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNoPayload is returned when no payload was archived for a change hash.
var ErrNoPayload = errors.New("archive: no payload stored")

// objectClient is the subset of *minio.Client used here.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// PayloadStore writes raw upstream responses to an S3 compatible bucket.
type PayloadStore struct {
	client objectClient
	bucket string
}

func NewPayloadStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*PayloadStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	s := &PayloadStore{client: client, bucket: bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PayloadStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// PayloadKey is the object name for one bill payload. Payloads are keyed by
// change hash so an unchanged bill is never stored twice.
func PayloadKey(billID, changeHash string) string {
	if strings.TrimSpace(changeHash) == "" {
		changeHash = "unhashed"
	}
	return fmt.Sprintf("legiscan/bill/%s/%s.json", billID, changeHash)
}

func (s *PayloadStore) PutBill(ctx context.Context, billID, changeHash string, payload []byte) (string, error) {
	key := PayloadKey(billID, changeHash)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

func (s *PayloadStore) GetBill(ctx context.Context, billID, changeHash string) ([]byte, error) {
	key := PayloadKey(billID, changeHash)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNoPayload, key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}
