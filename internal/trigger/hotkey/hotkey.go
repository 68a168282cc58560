//go:build desktop

// Package hotkey provides a trigger input driven by a global keyboard
// shortcut, for bench machines without GPIO. It needs a desktop session and
// is only built with the desktop tag.
package hotkey

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.design/x/hotkey"

	"github.com/tdu-cpslab/volp/internal/fault"
)

// Mode defines how the hotkey maps to the trigger level
type Mode int

const (
	// PressToHold mode: active while the key is held down
	PressToHold Mode = iota
	// Toggle mode: first press activates, second press deactivates
	Toggle
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case PressToHold:
		return "hold"
	case Toggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// Config holds hotkey configuration
type Config struct {
	Modifiers []hotkey.Modifier
	Key       hotkey.Key
	Mode      Mode
}

// DefaultConfig returns Ctrl+Shift+R in press-to-hold mode
func DefaultConfig() Config {
	return Config{
		Modifiers: []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift},
		Key:       hotkey.KeyR,
		Mode:      PressToHold,
	}
}

// Input is a trigger.Input driven by a global hotkey
type Input struct {
	hk       *hotkey.Hotkey
	config   Config
	active   atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewInput creates an unregistered hotkey input
func NewInput(config Config) *Input {
	return &Input{config: config}
}

// Register registers the hotkey with the system and starts listening
func (h *Input) Register() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return fmt.Errorf("hotkey is already running, call Close() first")
	}

	h.stopChan = make(chan struct{})
	h.active.Store(false)

	hk := hotkey.New(h.config.Modifiers, h.config.Key)
	if err := hk.Register(); err != nil {
		return fault.New(fault.DeviceUnavailable, "hotkey.register",
			fmt.Errorf("failed to register %s: %w", Format(h.config.Modifiers, h.config.Key), err))
	}

	h.hk = hk
	h.running = true

	h.wg.Add(1)
	go h.listen()

	return nil
}

// listen follows key events and updates the trigger level
func (h *Input) listen() {
	defer h.wg.Done()

	for {
		select {
		case <-h.hk.Keydown():
			h.keyDown()
		case <-h.hk.Keyup():
			h.keyUp()
		case <-h.stopChan:
			return
		}
	}
}

func (h *Input) keyDown() {
	switch h.config.Mode {
	case PressToHold:
		h.active.Store(true)
	case Toggle:
		h.active.Store(!h.active.Load())
	}
}

func (h *Input) keyUp() {
	if h.config.Mode == PressToHold {
		h.active.Store(false)
	}
}

// IsActive implements trigger.Input
func (h *Input) IsActive() bool {
	return h.active.Load()
}

// Close unregisters the hotkey and stops listening
func (h *Input) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}

	close(h.stopChan)
	h.wg.Wait()

	var unregisterErr error
	if h.hk != nil {
		if err := h.hk.Unregister(); err != nil {
			unregisterErr = fmt.Errorf("failed to unregister hotkey: %w", err)
		}
	}

	// Unregister failures still allow a later Register
	h.running = false
	h.active.Store(false)

	return unregisterErr
}

var modifierNames = map[string]hotkey.Modifier{
	"ctrl":  hotkey.ModCtrl,
	"shift": hotkey.ModShift,
}

var keyNames = map[string]hotkey.Key{
	"space": hotkey.KeySpace, "return": hotkey.KeyReturn, "esc": hotkey.KeyEscape, "tab": hotkey.KeyTab,
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD, "e": hotkey.KeyE,
	"f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH, "i": hotkey.KeyI, "j": hotkey.KeyJ,
	"k": hotkey.KeyK, "l": hotkey.KeyL, "m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO,
	"p": hotkey.KeyP, "q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX, "y": hotkey.KeyY,
	"z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3, "4": hotkey.Key4,
	"5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7, "8": hotkey.Key8, "9": hotkey.Key9,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}

// Parse parses a combination such as "ctrl+shift+r".
// Only modifiers available on every platform are accepted.
func Parse(s string) ([]hotkey.Modifier, hotkey.Key, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return nil, 0, fmt.Errorf("empty hotkey: %q", s)
	}

	var mods []hotkey.Modifier
	for _, p := range parts[:len(parts)-1] {
		mod, ok := modifierNames[strings.TrimSpace(p)]
		if !ok {
			return nil, 0, fmt.Errorf("unsupported modifier %q in %q", p, s)
		}
		mods = append(mods, mod)
	}

	key, ok := keyNames[strings.TrimSpace(parts[len(parts)-1])]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported key %q in %q", parts[len(parts)-1], s)
	}
	return mods, key, nil
}

// ParseMode converts a config string into a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "hold":
		return PressToHold, nil
	case "toggle":
		return Toggle, nil
	default:
		return PressToHold, fmt.Errorf("unsupported hotkey mode: %q", s)
	}
}

// Format returns a human-readable string representation of the hotkey
func Format(modifiers []hotkey.Modifier, key hotkey.Key) string {
	var parts []string
	for _, mod := range modifiers {
		switch mod {
		case hotkey.ModCtrl:
			parts = append(parts, "Ctrl")
		case hotkey.ModShift:
			parts = append(parts, "Shift")
		}
	}
	return strings.Join(append(parts, keyToString(key)), "+")
}

// keyToString converts a hotkey.Key to a display string
func keyToString(key hotkey.Key) string {
	for name, k := range keyNames {
		if k != key {
			continue
		}
		switch {
		case name == "esc":
			return "Esc"
		case len(name) > 1:
			return strings.ToUpper(name[:1]) + name[1:]
		default:
			return strings.ToUpper(name)
		}
	}
	return "Unknown"
}
