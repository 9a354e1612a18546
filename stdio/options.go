package stdio

import (
	"io"
	"log/slog"

	"github.com/docfork/docfork-mcp/auth"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithAuth sets the credentials resolved at startup.
func WithAuth(cfg auth.Config) Option {
	return func(h *Handler) {
		cfg.Transport = auth.TransportStdio
		h.cfg = cfg
	}
}
