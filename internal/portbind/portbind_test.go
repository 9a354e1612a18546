package portbind

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
)

// freeRun reserves n consecutive ports on the loopback interface and returns
// the first one together with the occupying listeners.
func freeRun(t *testing.T, n int) (int, []net.Listener) {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		scratch, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("scratch listen: %v", err)
		}
		base := scratch.Addr().(*net.TCPAddr).Port
		scratch.Close()
		if base+n+1 > 65535 {
			continue
		}

		var held []net.Listener
		ok := true
		for i := 0; i < n; i++ {
			ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(base+i))
			if err != nil {
				ok = false
				break
			}
			held = append(held, ln)
		}
		if ok {
			return base, held
		}
		for _, ln := range held {
			ln.Close()
		}
	}
	t.Skip("could not reserve a run of consecutive ports")
	return 0, nil
}

func TestBind_SkipsOccupiedPorts(t *testing.T) {
	base, held := freeRun(t, 4)
	defer func() {
		for _, ln := range held {
			ln.Close()
		}
	}()

	ln, port, err := bind(context.Background(), "127.0.0.1", base, 10)
	if err != nil {
		// The fifth port may have been taken by another process in between.
		t.Skipf("bind: %v", err)
	}
	defer ln.Close()

	if port < base+4 {
		t.Fatalf("want port >= %d, got %d", base+4, port)
	}
	if got := ln.Addr().(*net.TCPAddr).Port; got != port {
		t.Fatalf("listener on %d, reported %d", got, port)
	}
}

func TestBind_Exhausted(t *testing.T) {
	base, held := freeRun(t, 3)
	defer func() {
		for _, ln := range held {
			ln.Close()
		}
	}()

	_, _, err := bind(context.Background(), "127.0.0.1", base, 3)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "unable to find available port in range " + strconv.Itoa(base) + "-" + strconv.Itoa(base+2)
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("want %q, got %q", want, err.Error())
	}
}

func TestBind_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Bind(ctx, 0, 1); err == nil {
		t.Fatal("expected context error")
	}
}

func TestBind_OtherErrorsAreFatal(t *testing.T) {
	_, _, err := bind(context.Background(), "127.0.0.1", 70000, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "listen on port 70000") {
		t.Fatalf("expected failure on the first port without retrying, got %q", err.Error())
	}
	if strings.Contains(err.Error(), "unable to find available port") {
		t.Fatalf("non-EADDRINUSE error must not be retried: %q", err.Error())
	}
}

func TestBind_ReportsActualPort(t *testing.T) {
	ln, port, err := bind(context.Background(), "127.0.0.1", 0, 1)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer ln.Close()

	if port == 0 {
		t.Fatal("expected the ephemeral port, got 0")
	}
	if got := ln.Addr().(*net.TCPAddr).Port; got != port {
		t.Fatalf("listener on %d, reported %d", got, port)
	}
}
