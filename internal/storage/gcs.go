package storage

import (
	"context"
	"errors"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig はGoogle Cloud Storageの接続設定。
// 認証情報はKeyfilePath、ServiceAccountJSONの順に優先し、
// どちらも空の場合はApplication Default Credentialsを使う。
type GCSConfig struct {
	Bucket             string
	KeyfilePath        string
	ServiceAccountJSON string
}

// objectDeleter はバケット内のオブジェクトを削除する関数。テストで差し替える。
type objectDeleter func(ctx context.Context, bucket, object string) error

// GCSAvatarStore はGCSバケット上のアバター画像を削除するAvatarStore。
type GCSAvatarStore struct {
	bucket       string
	client       *gcs.Client
	deleteObject objectDeleter
}

// NewGCSAvatarStore はGCSクライアントを生成し、GCSAvatarStoreを返す。
func NewGCSAvatarStore(ctx context.Context, cfg GCSConfig) (*GCSAvatarStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.KeyfilePath != "":
		opts = append(opts, option.WithCredentialsFile(cfg.KeyfilePath))
	case cfg.ServiceAccountJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	s := &GCSAvatarStore{bucket: cfg.Bucket, client: client}
	s.deleteObject = func(ctx context.Context, bucket, object string) error {
		return client.Bucket(bucket).Object(object).Delete(ctx)
	}
	return s, nil
}

// IsManaged はURLがバケットの公開URLかどうかを返す。
func (s *GCSAvatarStore) IsManaged(rawURL string) bool {
	_, ok := ObjectName(s.bucket, rawURL)
	return ok
}

// Delete はURLが指すオブジェクトを削除する。
func (s *GCSAvatarStore) Delete(ctx context.Context, rawURL string) error {
	object, ok := ObjectName(s.bucket, rawURL)
	if !ok {
		return ErrNotManaged
	}

	err := s.deleteObject(ctx, s.bucket, object)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete avatar object %q: %w", object, err)
	}
	return nil
}

// Close はGCSクライアントを閉じる。
func (s *GCSAvatarStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// compile-time interface check
var _ AvatarStore = (*GCSAvatarStore)(nil)
