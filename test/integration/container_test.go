//go:build integration

package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultPostgresImage = "postgres:16-alpine"

// startPostgres runs a throwaway Postgres container with the Docker CLI and
// returns its connection string and a cleanup function. Docker picks the host
// port; FRONTDESK_TEST_PG_IMAGE overrides the image.
func startPostgres(ctx context.Context) (string, func(), error) {
	image := os.Getenv("FRONTDESK_TEST_PG_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	id, err := docker(ctx, "run", "-d", "--rm",
		"--name", fmt.Sprintf("frontdesk-it-%d", time.Now().UnixNano()),
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=frontdesk",
		"-e", "POSTGRES_PASSWORD=frontdesk",
		"-e", "POSTGRES_DB=frontdesktest",
		image,
	)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		_, _ = docker(context.Background(), "rm", "-f", id)
	}

	mapped, err := docker(ctx, "port", id, "5432/tcp")
	if err != nil {
		cleanup()
		return "", nil, err
	}
	addr, err := hostAddr(mapped)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	connStr := fmt.Sprintf("postgres://frontdesk:frontdesk@%s/frontdesktest?sslmode=disable", addr)
	if err := waitForPostgres(ctx, connStr, 30*time.Second); err != nil {
		cleanup()
		return "", nil, err
	}
	return connStr, cleanup, nil
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w\n%s", args[0], err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// hostAddr reads the first mapping printed by `docker port`, such as
// "127.0.0.1:49153". Wildcard hosts are dialed on loopback.
func hostAddr(mapped string) (string, error) {
	line, _, _ := strings.Cut(mapped, "\n")
	host, port, err := net.SplitHostPort(strings.TrimSpace(line))
	if err != nil {
		return "", fmt.Errorf("parse docker port output %q: %w", mapped, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

// waitForPostgres polls until the server accepts TCP connections. The image
// runs its init scripts on a socket-only server first, so an early success
// means the final server is up.
func waitForPostgres(ctx context.Context, connStr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	var lastErr error
	for {
		conn, err := pgx.Connect(ctx, connStr)
		if err == nil {
			err = conn.Ping(ctx)
			conn.Close(context.Background())
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
		case <-tick.C:
		}
	}
}
