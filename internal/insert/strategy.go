// Package insert delivers final transcript text to the focused application
// through an ordered fallback chain, and records every attempt in a bounded
// ledger so dictated text is never silently lost.
package insert

import (
	"context"
	"time"
)

// Method identifies which delivery strategy produced a transaction.
type Method string

const (
	MethodKeystroke       Method = "keystroke"
	MethodClipboardPaste  Method = "clipboardPaste"
	MethodClipboardOnly   Method = "clipboardOnly"
	MethodHistoryFallback Method = "historyFallback"
)

// Transaction records one completed delivery chain.
type Transaction struct {
	ID        string
	Text      string
	TargetApp string
	Method    Method
	Success   bool
	Undone    bool
	Timestamp time.Time
}

// UndoResult reports the outcome of an undo request. A second consecutive
// undo without an intervening insertion is a no-op failure, not an error.
type UndoResult struct {
	Applied bool
	Reason  string
}

// Strategy is one rung of the fallback chain. Adding a new delivery method
// means adding a Strategy; the session controller never changes.
type Strategy interface {
	Name() Method
	Attempt(ctx context.Context, text string) error
	// Undo reverses a previously successful Attempt for single-slot undo.
	Undo(ctx context.Context, tx Transaction) error
}
