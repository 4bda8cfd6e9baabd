package integration

import (
	"cmp"
	"context"
	"net"
	"os"
	"strings"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// startContainer runs req for the duration of the test and returns the
// host:port mapped to port. imageEnv overrides req.Image when set. The test
// is skipped when no container runtime is reachable.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, imageEnv string, port nat.Port) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req.Image = cmp.Or(strings.TrimSpace(os.Getenv(imageEnv)), req.Image)
	req.ExposedPorts = append(req.ExposedPorts, string(port))

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve %s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve %s port %s: %v", req.Image, port, err)
	}
	return net.JoinHostPort(host, mapped.Port())
}
