package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.SampleRate != 16000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Capture.SampleRate)
	}
	if cfg.VAD.MaxUtteranceMS != 30000 {
		t.Fatalf("expected default utterance cap, got %d", cfg.VAD.MaxUtteranceMS)
	}
	if cfg.Decode.Mode != "mock" {
		t.Fatalf("expected default decode mode mock, got %s", cfg.Decode.Mode)
	}
	if cfg.Insertion.LedgerCapacity != 50 {
		t.Fatalf("expected default ledger capacity, got %d", cfg.Insertion.LedgerCapacity)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MURMUR_CAPTURE_DEVICE", "usb-mic")
	t.Setenv("MURMUR_CAPTURE_SAMPLE_RATE", "48000")
	t.Setenv("MURMUR_VAD_THRESHOLD", "0.02")
	t.Setenv("MURMUR_VAD_RELEASE_TAIL_MS", "400")
	t.Setenv("MURMUR_VAD_MAX_UTTERANCE_MS", "15000")
	t.Setenv("MURMUR_DECODE_MODE", "exec")
	t.Setenv("MURMUR_DECODE_COMMAND", "whisper-cli --output-json")
	t.Setenv("MURMUR_DECODE_QUALITY", "accurate")
	t.Setenv("MURMUR_MODELS_ACTIVE", "ggml-large-v3")
	t.Setenv("MURMUR_INSERTION_DISABLE_PASTE", "true")
	t.Setenv("MURMUR_WATCHDOG_LISTEN_WINDOW_MS", "12000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Capture.Device != "usb-mic" {
		t.Fatalf("expected capture device override, got %s", cfg.Capture.Device)
	}
	if cfg.Capture.SampleRate != 48000 {
		t.Fatalf("expected sample rate override, got %d", cfg.Capture.SampleRate)
	}
	if cfg.VAD.Threshold != 0.02 {
		t.Fatalf("expected vad threshold override, got %f", cfg.VAD.Threshold)
	}
	if cfg.VAD.ReleaseTailMS != 400 {
		t.Fatalf("expected release tail override, got %d", cfg.VAD.ReleaseTailMS)
	}
	if cfg.VAD.MaxUtteranceMS != 15000 {
		t.Fatalf("expected utterance cap override, got %d", cfg.VAD.MaxUtteranceMS)
	}
	if cfg.Decode.Mode != "exec" || cfg.Decode.Command == "" {
		t.Fatalf("expected decode exec override, got %s %q", cfg.Decode.Mode, cfg.Decode.Command)
	}
	if cfg.Decode.Quality != "accurate" {
		t.Fatalf("expected quality override, got %s", cfg.Decode.Quality)
	}
	if cfg.Models.Active != "ggml-large-v3" {
		t.Fatalf("expected active model override, got %s", cfg.Models.Active)
	}
	if !cfg.Insertion.DisablePaste {
		t.Fatal("expected disable paste override true")
	}
	if cfg.Watchdog.ListenWindowMS != 12000 {
		t.Fatalf("expected watchdog override, got %d", cfg.Watchdog.ListenWindowMS)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("MURMUR_DECODE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec mode without command")
	}
}
