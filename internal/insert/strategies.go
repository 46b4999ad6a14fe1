package insert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/murmurlabs/murmur/internal/config"
)

// keystrokeStrategy types the text directly into the focused control.
type keystrokeStrategy struct {
	keyer Keyer
}

func (s *keystrokeStrategy) Name() Method { return MethodKeystroke }

func (s *keystrokeStrategy) Attempt(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !typable(text) {
		return fmt.Errorf("text contains characters outside the typable set")
	}
	return s.keyer.TypeText(text)
}

func (s *keystrokeStrategy) Undo(ctx context.Context, tx Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.keyer.Undo()
}

// clipboardPasteStrategy writes the text to the clipboard, sends the paste
// shortcut, and restores the previous clipboard contents.
type clipboardPasteStrategy struct {
	keyer     Keyer
	clipboard Clipboard
	settle    time.Duration
	restore   bool
}

func (s *clipboardPasteStrategy) Name() Method { return MethodClipboardPaste }

func (s *clipboardPasteStrategy) Attempt(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	backup, _ := s.clipboard.Read()
	if err := s.clipboard.Write(text); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	time.Sleep(s.settle)
	if err := s.keyer.Paste(); err != nil {
		return fmt.Errorf("simulated paste: %w", err)
	}
	if s.restore {
		time.Sleep(s.settle)
		_ = s.clipboard.Write(backup)
	}
	return nil
}

func (s *clipboardPasteStrategy) Undo(ctx context.Context, tx Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.keyer.Undo()
}

// clipboardOnlyStrategy leaves the text on the clipboard without a paste
// attempt, for environments where simulated input is restricted.
type clipboardOnlyStrategy struct {
	clipboard Clipboard

	mu     sync.Mutex
	backup string
}

func (s *clipboardOnlyStrategy) Name() Method { return MethodClipboardOnly }

func (s *clipboardOnlyStrategy) Attempt(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	backup, _ := s.clipboard.Read()
	if err := s.clipboard.Write(text); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	s.mu.Lock()
	s.backup = backup
	s.mu.Unlock()
	return nil
}

func (s *clipboardOnlyStrategy) Undo(ctx context.Context, tx Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	backup := s.backup
	s.mu.Unlock()
	return s.clipboard.Write(backup)
}

// historyStrategy is the terminal rung: delivery is blocked everywhere, so
// the text survives only in the ledger. It never fails.
type historyStrategy struct{}

func (historyStrategy) Name() Method { return MethodHistoryFallback }

func (historyStrategy) Attempt(ctx context.Context, text string) error { return nil }

func (historyStrategy) Undo(ctx context.Context, tx Transaction) error {
	// Nothing reached the target application; marking suffices.
	return nil
}

var errNoStrategies = errors.New("insertion chain is empty")

// BuildChain assembles the default fallback chain from config using the
// real keyboard and clipboard.
func BuildChain(cfg config.InsertionConfig) []Strategy {
	keyer := NewSystemKeyer()
	clip := NewSystemClipboard()
	var chain []Strategy
	if !cfg.DisableKeystroke {
		chain = append(chain, &keystrokeStrategy{keyer: keyer})
	}
	if !cfg.DisablePaste {
		chain = append(chain, &clipboardPasteStrategy{
			keyer:     keyer,
			clipboard: clip,
			settle:    time.Duration(cfg.PasteSettleMS) * time.Millisecond,
			restore:   cfg.RestoreClipboard,
		})
	}
	chain = append(chain, &clipboardOnlyStrategy{clipboard: clip})
	chain = append(chain, historyStrategy{})
	return chain
}
