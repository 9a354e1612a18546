// Package portbind finds a free TCP port starting from a preferred one.
package portbind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
)

// DefaultAttempts is the number of consecutive ports tried when the caller
// passes a non-positive attempt count.
const DefaultAttempts = 10

// Bind listens on the first free port in [preferred, preferred+maxAttempts).
// Only EADDRINUSE moves on to the next port; any other error is returned
// as is. The returned port is the one the listener is bound to, so a
// preferred port of 0 reports the ephemeral port the kernel chose. The
// returned listener is the only one left open.
func Bind(ctx context.Context, preferred, maxAttempts int) (net.Listener, int, error) {
	return bind(ctx, "", preferred, maxAttempts)
}

func bind(ctx context.Context, host string, preferred, maxAttempts int) (net.Listener, int, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	var lc net.ListenConfig
	last := preferred + maxAttempts - 1
	for port := preferred; port <= last; port++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			continue
		}
		return nil, 0, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return nil, 0, fmt.Errorf("unable to find available port in range %d-%d", preferred, last)
}
