package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
)

type fakeObjectClient struct {
	exists    bool
	existsErr error
	made      []string
	puts      map[string][]byte
	putType   string
}

func (f *fakeObjectClient) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeObjectClient) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeObjectClient) PutObject(_ context.Context, _, objectName string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[objectName] = data
	f.putType = opts.ContentType
	return minio.UploadInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeObjectClient) GetObject(_ context.Context, _, _ string, _ minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not implemented")
}

func TestPayloadKey(t *testing.T) {
	cases := []struct {
		billID, changeHash, want string
	}{
		{"1234", "abc", "legiscan/bill/1234/abc.json"},
		{"1234", "", "legiscan/bill/1234/unhashed.json"},
		{"9", "  ", "legiscan/bill/9/unhashed.json"},
	}
	for _, tc := range cases {
		if got := PayloadKey(tc.billID, tc.changeHash); got != tc.want {
			t.Errorf("PayloadKey(%q, %q) = %q, want %q", tc.billID, tc.changeHash, got, tc.want)
		}
	}
}

func TestEnsureBucketCreatesMissingBucket(t *testing.T) {
	client := &fakeObjectClient{}
	s := &PayloadStore{client: client, bucket: "billfeed-raw"}
	if err := s.ensureBucket(context.Background()); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if len(client.made) != 1 || client.made[0] != "billfeed-raw" {
		t.Fatalf("expected bucket to be created, got %v", client.made)
	}

	client = &fakeObjectClient{exists: true}
	s = &PayloadStore{client: client, bucket: "billfeed-raw"}
	if err := s.ensureBucket(context.Background()); err != nil || len(client.made) != 0 {
		t.Fatalf("existing bucket must not be recreated: made=%v err=%v", client.made, err)
	}

	client = &fakeObjectClient{existsErr: errors.New("denied")}
	s = &PayloadStore{client: client, bucket: "billfeed-raw"}
	if err := s.ensureBucket(context.Background()); err == nil {
		t.Fatal("expected error when bucket check fails")
	}
}

func TestPutBill(t *testing.T) {
	client := &fakeObjectClient{exists: true}
	s := &PayloadStore{client: client, bucket: "billfeed-raw"}

	key, err := s.PutBill(context.Background(), "1234", "abc", []byte(`{"bill_id":1234}`))
	if err != nil {
		t.Fatalf("PutBill() error = %v", err)
	}
	if key != "legiscan/bill/1234/abc.json" {
		t.Fatalf("unexpected key %q", key)
	}
	if string(client.puts[key]) != `{"bill_id":1234}` || client.putType != "application/json" {
		t.Fatalf("unexpected upload: %q type=%q", client.puts[key], client.putType)
	}
}
