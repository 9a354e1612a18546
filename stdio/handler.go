package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/docfork/docfork-mcp/auth"
	"github.com/docfork/docfork-mcp/internal/jsonrpc"
	"github.com/docfork/docfork-mcp/internal/logctx"
	"github.com/docfork/docfork-mcp/sessions"
)

// maxLineBytes bounds a single inbound message.
const maxLineBytes = 4 << 20

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// There is one implicit session for the lifetime of the process. The
// credentials given with WithAuth are attached to every request.
type Handler struct {
	engine sessions.Engine
	r      io.Reader
	w      io.Writer
	l      *slog.Logger
	cfg    auth.Config

	wmu sync.Mutex
	wg  sync.WaitGroup
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(engine sessions.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		r:      os.Stdin,
		w:      os.Stdout,
		l:      slog.Default(),
		cfg:    auth.Config{Transport: auth.TransportStdio},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.l = logctx.New(h.l)
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. Requests are handled concurrently; responses are written one
// line each as they complete. On EOF Serve waits for in-flight requests.
func (h *Handler) Serve(ctx context.Context) error {
	ctx = auth.WithConfig(ctx, h.cfg)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Transport: string(auth.TransportStdio)})
	h.l.InfoContext(ctx, "stdio.start")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.stop", slog.String("reason", "context"))
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				h.wg.Wait()
				var err error
				select {
				case err = <-readErr:
				default:
				}
				if err != nil {
					h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
					return fmt.Errorf("read stdin: %w", err)
				}
				h.l.InfoContext(ctx, "stdio.stop", slog.String("reason", "eof"))
				return nil
			}
			h.dispatch(ctx, line)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, line []byte) {
	if !json.Valid(line) {
		h.l.InfoContext(ctx, "stdio.parse.fail")
		h.write(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "Parse error", nil))
		return
	}
	if line[0] == '[' {
		h.write(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request: batch requests are not supported", nil))
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		h.l.InfoContext(ctx, "stdio.message.invalid", slog.String("err", err.Error()))
		h.write(ctx, jsonrpc.NewErrorResponse(probeID(line), jsonrpc.ErrorCodeInvalidRequest, "Invalid Request", nil))
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		start := time.Now()
		res := h.engine.Handle(ctx, &msg)
		if res == nil {
			return
		}
		h.write(ctx, res)
		h.l.DebugContext(ctx, "stdio.request.ok", slog.String("method", msg.Method), slog.Duration("dur", time.Since(start)))
	}()
}

// write serializes v as one line. Concurrent responses never interleave.
func (h *Handler) write(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.marshal.fail", slog.String("err", err.Error()))
		return
	}
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if _, err := h.w.Write(append(b, '\n')); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}

func probeID(raw []byte) *jsonrpc.RequestID {
	var probe struct {
		ID *jsonrpc.RequestID `json:"id"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return nil
	}
	return probe.ID
}
