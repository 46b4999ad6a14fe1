package model

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/murmurlabs/murmur/internal/config"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.ModelsConfig{Dir: dir, Active: "ggml-base.en"}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(cfg, log), dir
}

func writeModel(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestReadyMissingModel(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Ready("ggml-base.en"); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestReadyEmptyModel(t *testing.T) {
	r, dir := newTestRegistry(t)
	writeModel(t, dir, "ggml-base.en.bin", 0)
	if err := r.Ready("ggml-base.en"); err == nil {
		t.Fatal("expected error for empty model file")
	}
}

func TestReadyQuarantinedModel(t *testing.T) {
	r, dir := newTestRegistry(t)
	writeModel(t, dir, "ggml-base.en.bin", 128)
	writeModel(t, dir, "ggml-base.en.bin.quarantine", 1)
	if err := r.Ready("ggml-base.en"); err == nil {
		t.Fatal("expected error for quarantined model")
	}
}

func TestReadyAndSetActive(t *testing.T) {
	r, dir := newTestRegistry(t)
	writeModel(t, dir, "ggml-base.en.bin", 128)
	writeModel(t, dir, "ggml-small.en.bin", 256)

	if err := r.Ready("ggml-base.en"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if err := r.SetActive("ggml-small.en"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if got := r.ActiveModelID(); got != "ggml-small.en" {
		t.Fatalf("active = %q", got)
	}
	if err := r.SetActive("ggml-large"); err == nil {
		t.Fatal("expected rejection for missing model")
	}
	if got := r.ActiveModelID(); got != "ggml-small.en" {
		t.Fatalf("active changed despite rejection: %q", got)
	}
}

func TestListSkipsQuarantineMarkers(t *testing.T) {
	r, dir := newTestRegistry(t)
	writeModel(t, dir, "ggml-base.en.bin", 128)
	writeModel(t, dir, "ggml-tiny.en.bin.quarantine", 1)

	models, err := r.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}
	if models[0].ID != "ggml-base.en" {
		t.Fatalf("unexpected model id %q", models[0].ID)
	}
}
