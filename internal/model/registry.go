// Package model tracks the speech models available on disk and which one is
// active. A model is a single file under the models directory; a sibling
// ".quarantine" marker flags a download that failed verification.
package model

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/murmurlabs/murmur/internal/config"
)

// Info describes one model file found in the registry directory.
type Info struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	SizeMB int64  `json:"size_mb"`
	Active bool   `json:"active"`
}

type Registry struct {
	dir string
	log *slog.Logger

	mu     sync.RWMutex
	active string
}

func NewRegistry(cfg config.ModelsConfig, log *slog.Logger) *Registry {
	return &Registry{
		dir:    cfg.Dir,
		log:    log.With(slog.String("component", "model-registry")),
		active: cfg.Active,
	}
}

// ActiveModelID returns the identifier of the model decodes run against.
func (r *Registry) ActiveModelID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Path returns the on-disk path for a model id. Ids are stored without the
// ".bin" extension ("ggml-base.en" -> "ggml-base.en.bin").
func (r *Registry) Path(id string) string {
	name := id
	if !strings.HasSuffix(name, ".bin") {
		name += ".bin"
	}
	return filepath.Join(r.dir, name)
}

// Ready reports whether the model file exists, is non-empty, and is not
// quarantined. Sessions fail fast on a missing model instead of handing a
// bad path to the decoder.
func (r *Registry) Ready(id string) error {
	path := r.Path(id)
	if _, err := os.Stat(path + ".quarantine"); err == nil {
		return fmt.Errorf("model %s is quarantined, re-download it", id)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("model %s not found at %s", id, path)
		}
		return fmt.Errorf("stat model %s: %w", id, err)
	}
	if info.IsDir() {
		return fmt.Errorf("model path %s is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("model %s is empty, likely a truncated download", id)
	}
	return nil
}

// SetActive switches the active model after verifying it is usable.
func (r *Registry) SetActive(id string) error {
	if err := r.Ready(id); err != nil {
		return err
	}
	r.mu.Lock()
	r.active = id
	r.mu.Unlock()
	r.log.Info("active model changed", slog.String("model", id))
	return nil
}

// List enumerates the usable models in the registry directory.
func (r *Registry) List() ([]Info, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read models dir: %w", err)
	}
	active := r.ActiveModelID()
	var out []Info
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".quarantine") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		out = append(out, Info{
			ID:     id,
			Path:   filepath.Join(r.dir, e.Name()),
			SizeMB: fi.Size() / (1 << 20),
			Active: id == active,
		})
	}
	return out, nil
}
