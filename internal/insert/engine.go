package insert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine walks the fallback chain until one strategy delivers, appending
// exactly one transaction per insert call to the ledger.
type Engine struct {
	mu     sync.Mutex
	chain  []Strategy
	ledger []Transaction
	cap    int
	log    *slog.Logger
}

func NewEngine(chain []Strategy, capacity int, log *slog.Logger) *Engine {
	if capacity <= 0 {
		capacity = 50
	}
	return &Engine{chain: chain, cap: capacity, log: log}
}

// Insert attempts delivery through the chain in order. The returned
// transaction is always appended to the ledger, so the text is preserved
// even when every strategy short of history fallback is blocked.
func (e *Engine) Insert(ctx context.Context, text, targetApp string) (Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := Transaction{
		ID:        uuid.NewString(),
		Text:      text,
		TargetApp: targetApp,
		Timestamp: time.Now(),
	}

	if len(e.chain) == 0 {
		e.append(tx)
		return tx, errNoStrategies
	}

	for _, strategy := range e.chain {
		err := strategy.Attempt(ctx, text)
		if err == nil {
			tx.Method = strategy.Name()
			tx.Success = true
			e.append(tx)
			return tx, nil
		}
		e.log.Debug("insertion strategy failed",
			slog.String("method", string(strategy.Name())),
			slog.String("error", err.Error()))
	}

	// Unreachable with the default chain: history fallback never fails.
	tx.Method = e.chain[len(e.chain)-1].Name()
	e.append(tx)
	return tx, nil
}

// Preserve appends text to the ledger without attempting delivery. Used when
// a session fails after partial transcripts already arrived, so the words are
// recoverable from history.
func (e *Engine) Preserve(text string) Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := Transaction{
		ID:        uuid.NewString(),
		Text:      text,
		Method:    MethodHistoryFallback,
		Timestamp: time.Now(),
	}
	e.append(tx)
	return tx
}

// UndoLast reverses the most recent successful transaction if and only if
// it has not been superseded or already undone. Single slot, not a stack.
func (e *Engine) UndoLast(ctx context.Context) UndoResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.ledger) == 0 {
		return UndoResult{Applied: false, Reason: "nothing to undo"}
	}
	last := &e.ledger[len(e.ledger)-1]
	if !last.Success {
		return UndoResult{Applied: false, Reason: "last insertion was not delivered"}
	}
	if last.Undone {
		return UndoResult{Applied: false, Reason: "last insertion already undone"}
	}

	strategy := e.strategyFor(last.Method)
	if strategy == nil {
		return UndoResult{Applied: false, Reason: "no strategy for method"}
	}
	if err := strategy.Undo(ctx, *last); err != nil {
		e.log.Warn("undo failed",
			slog.String("method", string(last.Method)),
			slog.String("error", err.Error()))
		return UndoResult{Applied: false, Reason: err.Error()}
	}
	last.Undone = true
	return UndoResult{Applied: true}
}

// Recent returns up to limit transactions, newest first.
func (e *Engine) Recent(limit int) []Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || limit > len(e.ledger) {
		limit = len(e.ledger)
	}
	out := make([]Transaction, 0, limit)
	for i := len(e.ledger) - 1; i >= len(e.ledger)-limit; i-- {
		out = append(out, e.ledger[i])
	}
	return out
}

func (e *Engine) append(tx Transaction) {
	e.ledger = append(e.ledger, tx)
	if over := len(e.ledger) - e.cap; over > 0 {
		e.ledger = e.ledger[over:]
	}
}

func (e *Engine) strategyFor(method Method) Strategy {
	for _, s := range e.chain {
		if s.Name() == method {
			return s
		}
	}
	return nil
}
