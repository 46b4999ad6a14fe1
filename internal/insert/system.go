package insert

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// Keyer abstracts simulated keyboard input so strategies stay testable.
type Keyer interface {
	TypeText(text string) error
	Paste() error
	Undo() error
}

// Clipboard abstracts the system clipboard.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

type systemClipboard struct{}

func NewSystemClipboard() Clipboard { return systemClipboard{} }

func (systemClipboard) Read() (string, error)   { return clipboard.ReadAll() }
func (systemClipboard) Write(text string) error { return clipboard.WriteAll(text) }

// systemKeyer simulates keystrokes with keybd_event. Typing covers the
// printable ASCII subset the virtual-key table can express; anything else
// fails the keystroke strategy and the chain falls through to clipboard
// delivery.
type systemKeyer struct{}

func NewSystemKeyer() Keyer { return systemKeyer{} }

var letterKeys = map[rune]int{
	'a': keybd_event.VK_A, 'b': keybd_event.VK_B, 'c': keybd_event.VK_C,
	'd': keybd_event.VK_D, 'e': keybd_event.VK_E, 'f': keybd_event.VK_F,
	'g': keybd_event.VK_G, 'h': keybd_event.VK_H, 'i': keybd_event.VK_I,
	'j': keybd_event.VK_J, 'k': keybd_event.VK_K, 'l': keybd_event.VK_L,
	'm': keybd_event.VK_M, 'n': keybd_event.VK_N, 'o': keybd_event.VK_O,
	'p': keybd_event.VK_P, 'q': keybd_event.VK_Q, 'r': keybd_event.VK_R,
	's': keybd_event.VK_S, 't': keybd_event.VK_T, 'u': keybd_event.VK_U,
	'v': keybd_event.VK_V, 'w': keybd_event.VK_W, 'x': keybd_event.VK_X,
	'y': keybd_event.VK_Y, 'z': keybd_event.VK_Z,
	'0': keybd_event.VK_0, '1': keybd_event.VK_1, '2': keybd_event.VK_2,
	'3': keybd_event.VK_3, '4': keybd_event.VK_4, '5': keybd_event.VK_5,
	'6': keybd_event.VK_6, '7': keybd_event.VK_7, '8': keybd_event.VK_8,
	'9': keybd_event.VK_9,
	' ': keybd_event.VK_SPACE,
	'.': keybd_event.VK_DOT, ',': keybd_event.VK_COMMA,
	'-': keybd_event.VK_MINUS, '\n': keybd_event.VK_ENTER,
}

func (systemKeyer) TypeText(text string) error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("keyboard binding: %w", err)
	}
	for _, r := range text {
		lower := r
		shift := false
		if r >= 'A' && r <= 'Z' {
			lower = r + ('a' - 'A')
			shift = true
		}
		key, ok := letterKeys[lower]
		if !ok {
			return fmt.Errorf("no virtual key for rune %q", r)
		}
		kb.Clear()
		kb.HasSHIFT(shift)
		kb.SetKeys(key)
		if err := kb.Launching(); err != nil {
			return fmt.Errorf("send key %q: %w", r, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	return nil
}

func (systemKeyer) Paste() error { return sendShortcut(keybd_event.VK_V) }
func (systemKeyer) Undo() error  { return sendShortcut(keybd_event.VK_Z) }

func sendShortcut(key int) error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("keyboard binding: %w", err)
	}
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	kb.SetKeys(key)
	if err := kb.Launching(); err != nil {
		return fmt.Errorf("send shortcut: %w", err)
	}
	return nil
}

// typable reports whether every rune of text has a virtual-key mapping.
func typable(text string) bool {
	for _, r := range strings.ToLower(text) {
		if _, ok := letterKeys[r]; !ok {
			return false
		}
	}
	return true
}
