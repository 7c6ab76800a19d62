package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nats-io/nats.go"
	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckReadable verifies that a watch folder exists and can be listed.
func CheckReadable(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read ok)", path)}
}

// FreeBytes returns the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// CheckFreeSpace verifies that path has at least need bytes available.
func CheckFreeSpace(name, path string, need int64) Result {
	free, err := FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%s free on %s", humanize.IBytes(free), path)
	if need > 0 && free < uint64(need) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need at least %s)", detail, humanize.IBytes(uint64(need)))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckNATS verifies that the NATS server accepts a connection.
func CheckNATS(ctx context.Context, url, credentialsFile string) Result {
	const name = "NATS"

	url = strings.TrimSpace(url)
	if url == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	opts := []nats.Option{nats.Name("courier-preflight"), nats.Timeout(timeout), nats.NoReconnect()}
	if credentialsFile != "" {
		opts = append(opts, nats.UserCredentials(credentialsFile))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", url, summarizeNetError(err))}
	}
	defer nc.Close()

	if _, err := nc.JetStream(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: jetstream unavailable: %v)", url, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (connected)", nc.ConnectedUrlRedacted())}
}

// CheckEndpoint verifies that an HTTP endpoint answers at all. Any response,
// including 4xx, counts as reachable.
func CheckEndpoint(ctx context.Context, name, url string) Result {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, url, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%s)", summarizeNetError(err))}
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}
