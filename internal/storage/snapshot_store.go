// Package storage writes catalog snapshots to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sandeepkv93/product-catalog-backend/internal/config"
)

const (
	snapshotPrefix      = "snapshots/"
	snapshotContentType = "application/json"
	snapshotTimeLayout  = "20060102T150405Z"
)

var (
	ErrBucketUnavailable = errors.New("snapshot bucket unavailable")
	ErrUploadFailed      = errors.New("snapshot upload failed")
)

// ObjectInfo describes one stored snapshot.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// SnapshotStore persists JSON catalog snapshots.
type SnapshotStore interface {
	Put(ctx context.Context, snapshot any) (ObjectInfo, error)
	List(ctx context.Context) ([]ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// MinIOSnapshotStore stores snapshots in a MinIO or S3 bucket. The bucket is
// created on first use.
type MinIOSnapshotStore struct {
	client *minio.Client
	bucket string
	now    func() time.Time
	newID  func() string

	initOnce sync.Once
	initErr  error
}

func NewMinIOSnapshotStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinIOSnapshotStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOSnapshotStore{
		client: client,
		bucket: bucket,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// NewSnapshotStoreFromConfig builds a store from the MINIO_* settings.
func NewSnapshotStoreFromConfig(cfg *config.Config) (*MinIOSnapshotStore, error) {
	if err := cfg.ValidateSnapshotStorage(); err != nil {
		return nil, err
	}
	return NewMinIOSnapshotStore(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
}

func (s *MinIOSnapshotStore) Bucket() string {
	return s.bucket
}

func (s *MinIOSnapshotStore) lazyInit(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = fmt.Errorf("%w: check bucket: %v", ErrBucketUnavailable, err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			s.initErr = fmt.Errorf("%w: create bucket: %v", ErrBucketUnavailable, err)
		}
	})
	return s.initErr
}

// SnapshotKey names a snapshot taken at t.
func SnapshotKey(t time.Time, id string) string {
	return snapshotPrefix + t.UTC().Format(snapshotTimeLayout) + "-" + id + ".json"
}

func (s *MinIOSnapshotStore) Put(ctx context.Context, snapshot any) (ObjectInfo, error) {
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.lazyInit(ctx); err != nil {
		return ObjectInfo{}, err
	}

	now := s.now().UTC()
	key := SnapshotKey(now, s.newID())
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: snapshotContentType,
		UserMetadata: map[string]string{
			"Exported-At": now.Format(time.RFC3339),
		},
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return ObjectInfo{Key: key, Size: info.Size, LastModified: now}, nil
}

// List returns every snapshot, newest first.
func (s *MinIOSnapshotStore) List(ctx context.Context) ([]ObjectInfo, error) {
	if err := s.lazyInit(ctx); err != nil {
		return nil, err
	}
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: snapshotPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list snapshots: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	slices.SortFunc(out, func(a, b ObjectInfo) int { return strings.Compare(b.Key, a.Key) })
	return out, nil
}

func (s *MinIOSnapshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !strings.HasPrefix(key, snapshotPrefix) {
		return nil, fmt.Errorf("snapshot key %q must start with %s", key, snapshotPrefix)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return data, nil
}
