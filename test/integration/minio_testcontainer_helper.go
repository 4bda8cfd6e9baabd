package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sandeepkv93/product-catalog-backend/internal/storage"
)

const (
	minioTestImage = "docker.io/minio/minio:RELEASE.2025-09-07T16-13-09Z"
	minioRootUser  = "minioadmin"
	minioRootPass  = "minioadmin"
)

// snapshotBucketEnv is a throwaway MinIO server with a unique bucket name.
// store is what the export tool writes through; client reads objects back
// independently of it.
type snapshotBucketEnv struct {
	bucket string
	store  *storage.MinIOSnapshotStore
	client *minio.Client
}

func newMinIOIntegrationEnv(t *testing.T) *snapshotBucketEnv {
	t.Helper()
	endpoint := startContainer(t, testcontainers.ContainerRequest{
		Image: minioTestImage,
		Env: map[string]string{
			"MINIO_ROOT_USER":     minioRootUser,
			"MINIO_ROOT_PASSWORD": minioRootPass,
		},
		Cmd: []string{"server", "/data", "--address", ":9000"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").
			WithPort("9000/tcp").
			WithStartupTimeout(45 * time.Second),
	}, "MINIO_TEST_IMAGE", "9000/tcp")

	bucket := fmt.Sprintf("snapshots-it-%d", time.Now().UnixNano())
	store, err := storage.NewMinIOSnapshotStore(endpoint, minioRootUser, minioRootPass, bucket, false)
	if err != nil {
		t.Fatalf("create snapshot store: %v", err)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(minioRootUser, minioRootPass, ""),
	})
	if err != nil {
		t.Fatalf("create verification client: %v", err)
	}
	return &snapshotBucketEnv{bucket: bucket, store: store, client: client}
}

func (e *snapshotBucketEnv) mustStatObject(t *testing.T, key string) minio.ObjectInfo {
	t.Helper()
	obj, err := e.client.StatObject(context.Background(), e.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		t.Fatalf("stat snapshot %q (code %s): %v", key, minio.ToErrorResponse(err).Code, err)
	}
	return obj
}
