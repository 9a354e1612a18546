package jwtauth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchKeyFile loads path into h and reloads it whenever the file changes.
// The parent directory is watched so that atomic replacements (rename over
// the old file, as done for mounted secrets) are observed.
func watchKeyFile(ctx context.Context, path string, h *keyHolder, log *slog.Logger) error {
	path = filepath.Clean(path)
	if err := loadKeyFile(path, h); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("public key watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("public key watcher: %w", err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := loadKeyFile(path, h); err != nil {
					log.Warn("jwtauth.keyfile.reload.fail", slog.String("path", path), slog.String("err", err.Error()))
					continue
				}
				log.Info("jwtauth.keyfile.reload", slog.String("path", path))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("jwtauth.keyfile.watch.error", slog.String("err", err.Error()))
			}
		}
	}()
	return nil
}

func loadKeyFile(path string, h *keyHolder) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}
	key, err := ParsePublicKeyPEM(string(b))
	if err != nil {
		return fmt.Errorf("public key %s: %w", path, err)
	}
	h.set(key)
	return nil
}
