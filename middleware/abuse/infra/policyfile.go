package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"abuse-gateway/middleware/abuse/domain"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ParsePolicy aplica o YAML por cima de domain.DefaultPolicy(). Campos
// ausentes mantêm o padrão; listas presentes substituem a lista inteira.
func ParsePolicy(data []byte) (domain.Policy, error) {
	p := domain.DefaultPolicy()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return domain.Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return domain.Policy{}, err
	}
	return p, nil
}

func LoadPolicyFile(path string) (domain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("read policy file %s: %w", path, err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

const policyReloadDebounce = 100 * time.Millisecond

// WatchPolicyFile recarrega o arquivo a cada alteração e entrega a nova política
// para apply. Se o arquivo não parsear, ou apply recusar, a política anterior
// continua valendo.
//
// Observa o diretório, não o arquivo: editores costumam salvar via rename.
// Pare cancelando o contexto.
func WatchPolicyFile(ctx context.Context, path string, logger *slog.Logger, apply func(domain.Policy) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve policy path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	reload := func() {
		p, err := LoadPolicyFile(target)
		if err != nil {
			logger.Error("policy reload failed, keeping previous policy", "path", target, "error", err)
			return
		}
		if err := apply(p); err != nil {
			logger.Error("policy rejected, keeping previous policy", "path", target, "error", err)
			return
		}
		logger.Info("policy reloaded", "path", target)
	}

	go func() {
		defer func() { _ = w.Close() }()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return

			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(policyReloadDebounce, reload)

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("policy watcher error", "error", err)
			}
		}
	}()
	return nil
}
