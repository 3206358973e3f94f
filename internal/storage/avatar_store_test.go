package storage

import (
	"context"
	"errors"
	"testing"

	gcs "cloud.google.com/go/storage"
)

func TestObjectName(t *testing.T) {
	tests := []struct {
		name   string
		bucket string
		url    string
		want   string
		wantOK bool
	}{
		{"managed object", "avatars-bkt", "https://storage.googleapis.com/avatars-bkt/avatars/me-1700000000.png", "avatars/me-1700000000.png", true},
		{"query string is dropped", "avatars-bkt", "https://storage.googleapis.com/avatars-bkt/a.png?v=2", "a.png", true},
		{"escaped name", "avatars-bkt", "https://storage.googleapis.com/avatars-bkt/avatars/my%20photo.png", "avatars/my photo.png", true},
		{"other bucket", "avatars-bkt", "https://storage.googleapis.com/other/a.png", "", false},
		{"bucket name prefix only", "avatars-bkt", "https://storage.googleapis.com/avatars-bkt-old/a.png", "", false},
		{"provider picture", "avatars-bkt", "https://lh3.googleusercontent.com/a/photo", "", false},
		{"bucket root", "avatars-bkt", "https://storage.googleapis.com/avatars-bkt/", "", false},
		{"empty bucket", "", "https://storage.googleapis.com//a.png", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ObjectName(tt.bucket, tt.url)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ObjectName() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func newTestGCSStore(deleter objectDeleter) *GCSAvatarStore {
	return &GCSAvatarStore{bucket: "avatars-bkt", deleteObject: deleter}
}

func TestGCSAvatarStore_Delete_ManagedObject(t *testing.T) {
	var gotBucket, gotObject string
	store := newTestGCSStore(func(ctx context.Context, bucket, object string) error {
		gotBucket, gotObject = bucket, object
		return nil
	})

	if err := store.Delete(context.Background(), "https://storage.googleapis.com/avatars-bkt/avatars/a.png"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if gotBucket != "avatars-bkt" || gotObject != "avatars/a.png" {
		t.Errorf("deleted %s/%s", gotBucket, gotObject)
	}
}

func TestGCSAvatarStore_Delete_UnmanagedURL(t *testing.T) {
	store := newTestGCSStore(func(ctx context.Context, bucket, object string) error {
		t.Error("deleter should not be called for unmanaged URL")
		return nil
	})

	err := store.Delete(context.Background(), "https://lh3.googleusercontent.com/a/photo")
	if !errors.Is(err, ErrNotManaged) {
		t.Errorf("expected ErrNotManaged, got %v", err)
	}
}

func TestGCSAvatarStore_Delete_MissingObjectIsSuccess(t *testing.T) {
	store := newTestGCSStore(func(ctx context.Context, bucket, object string) error {
		return gcs.ErrObjectNotExist
	})

	if err := store.Delete(context.Background(), "https://storage.googleapis.com/avatars-bkt/gone.png"); err != nil {
		t.Errorf("expected nil for missing object, got %v", err)
	}
}

func TestGCSAvatarStore_Delete_PropagatesError(t *testing.T) {
	storageErr := errors.New("permission denied")
	store := newTestGCSStore(func(ctx context.Context, bucket, object string) error {
		return storageErr
	})

	err := store.Delete(context.Background(), "https://storage.googleapis.com/avatars-bkt/a.png")
	if !errors.Is(err, storageErr) {
		t.Errorf("expected wrapped storage error, got %v", err)
	}
}

func TestGCSAvatarStore_CloseWithoutClient(t *testing.T) {
	if err := newTestGCSStore(nil).Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewGCSAvatarStore_RequiresBucket(t *testing.T) {
	if _, err := NewGCSAvatarStore(context.Background(), GCSConfig{}); err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestNopAvatarStore(t *testing.T) {
	var store AvatarStore = NopAvatarStore{}
	if store.IsManaged("https://storage.googleapis.com/any/a.png") {
		t.Error("NopAvatarStore should not manage any URL")
	}
	if err := store.Delete(context.Background(), "x"); !errors.Is(err, ErrNotManaged) {
		t.Errorf("expected ErrNotManaged, got %v", err)
	}
}
