package decode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmur/internal/config"
)

// ExecTranscriber shells out to a whisper-style CLI. The command receives a
// temporary WAV file and must print a JSON object with text, confidence, and
// no_speech_prob fields on stdout.
type ExecTranscriber struct {
	argv      []string
	cfg       config.DecodeConfig
	modelPath string
	mu        sync.Mutex
}

type execResult struct {
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

func NewExecTranscriber(cfg config.DecodeConfig, modelPath string) (*ExecTranscriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse decode command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("decode command is empty")
	}
	return &ExecTranscriber{argv: args, cfg: cfg, modelPath: modelPath}, nil
}

func (t *ExecTranscriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int, profile Profile) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "murmur_decode_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate); err != nil {
		return Result{}, err
	}

	cmdArgs := append([]string{}, t.argv[1:]...)
	cmdArgs = append(cmdArgs, profile.Args...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if t.modelPath != "" {
		cmdArgs = append(cmdArgs, "--model", t.modelPath)
	}
	if t.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", t.cfg.Language)
	}

	command := exec.CommandContext(ctx, t.argv[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("decode command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	return Result{Text: resp.Text, Confidence: resp.Confidence, NoSpeechProb: resp.NoSpeechProb}, nil
}

func writePCMToWav(file *os.File, pcm []int16, sampleRate int) error {
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate}}
	samples := make([]int, len(pcm))
	for i, s := range pcm {
		samples[i] = int(s)
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
