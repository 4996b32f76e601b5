package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const endpointTimeout = 5 * time.Second

// CheckEndpoint verifies a TCP connection can be opened to the host behind
// rawURL. It proves reachability only; credentials are exercised by the
// first real attempt.
func CheckEndpoint(ctx context.Context, name, rawURL string) Result {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Hostname() == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url %q", rawURL)}
	}
	port := parsed.Port()
	if port == "" {
		port = "443"
		if parsed.Scheme == "http" {
			port = "80"
		}
	}
	addr := net.JoinHostPort(parsed.Hostname(), port)

	checkCtx, cancel := context.WithTimeout(ctx, endpointTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: summarizeDialError(addr, err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: "Reachable (" + addr + ")"}
}

// CheckDirectoryAccess verifies a directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s does not exist", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s: %v", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s is not a directory", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s is not readable/writable", path)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckFreeSpace verifies the filesystem holding path has at least minBytes
// available to unprivileged writers.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s: %v", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	detail := formatBytes(free) + " available"
	if free < minBytes {
		return Result{Name: name, Detail: detail + " (below " + formatBytes(minBytes) + ")"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

func summarizeDialError(addr string, err error) string {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return fmt.Sprintf("cannot resolve %s", dnsErr.Name)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s timed out", addr)
	case errors.Is(err, unix.ECONNREFUSED):
		return fmt.Sprintf("%s refused connection", addr)
	default:
		return fmt.Sprintf("%s unreachable (%v)", addr, err)
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
