//go:build desktop

// Package tray shows the pipeline state in the system tray of a bench
// machine. It needs GTK and is only built with the desktop tag.
package tray

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/getlantern/systray"
)

// State represents what the tray icon shows
type State int

const (
	StateIdle State = iota
	StateBusy
)

// Indicator shows the pipeline state as a system-tray icon.
// It implements trigger.Output so it can stand in for the GPIO indicator on a bench machine.
type Indicator struct {
	stateMutex sync.RWMutex
	state      State
	ready      bool
	lastLink   string

	onReadyCallback func()
	onQuit          func()

	menuStatus *systray.MenuItem
	menuLink   *systray.MenuItem
	menuQuit   *systray.MenuItem

	// Icon cache
	iconIdle []byte
	iconBusy []byte
}

// Config holds tray indicator configuration
type Config struct {
	OnReady func() // Called when systray is ready for initialization
	OnQuit  func()
}

// NewIndicator creates a new tray indicator
func NewIndicator(config Config) *Indicator {
	i := &Indicator{
		state:           StateIdle,
		onReadyCallback: config.OnReady,
		onQuit:          config.OnQuit,
	}

	// Load icons once at initialization
	i.iconIdle = loadIconData("mic_idle.png", getIdleFallback())
	i.iconBusy = loadIconData("mic_busy.png", getBusyFallback())

	return i
}

// Run starts the system tray (blocking call)
func (i *Indicator) Run() {
	systray.Run(i.onReady, i.onExit)
}

// onReady is called when systray is ready
func (i *Indicator) onReady() {
	systray.SetTitle("volp")

	i.menuStatus = systray.AddMenuItem("待機中", "Pipeline state")
	i.menuStatus.Disable()
	i.menuLink = systray.AddMenuItem("リンクなし", "Last published link")
	i.menuLink.Disable()

	systray.AddSeparator()

	i.menuQuit = systray.AddMenuItem("終了", "Quit the recorder")

	i.stateMutex.Lock()
	i.ready = true
	i.updateIcon()
	i.stateMutex.Unlock()

	go i.handleMenuEvents()

	if i.onReadyCallback != nil {
		i.onReadyCallback()
	}
}

// onExit is called when systray is exiting
func (i *Indicator) onExit() {
	i.stateMutex.Lock()
	i.ready = false
	i.stateMutex.Unlock()
}

// handleMenuEvents handles menu item clicks
func (i *Indicator) handleMenuEvents() {
	<-i.menuQuit.ClickedCh
	if i.onQuit != nil {
		i.onQuit()
	}
	systray.Quit()
}

// Set implements trigger.Output
func (i *Indicator) Set(on bool) error {
	state := StateIdle
	if on {
		state = StateBusy
	}
	i.SetState(state)
	return nil
}

// SetState updates the tray icon based on the current state
func (i *Indicator) SetState(state State) {
	i.stateMutex.Lock()
	defer i.stateMutex.Unlock()
	i.state = state
	i.updateIcon()
}

// State returns the state currently shown
func (i *Indicator) State() State {
	i.stateMutex.RLock()
	defer i.stateMutex.RUnlock()
	return i.state
}

// SetLink shows the last published link in the menu
func (i *Indicator) SetLink(link string) {
	i.stateMutex.Lock()
	defer i.stateMutex.Unlock()
	i.lastLink = link
	if i.ready {
		i.menuLink.SetTitle(link)
	}
}

// updateIcon pushes the current state to the tray. Callers hold stateMutex.
func (i *Indicator) updateIcon() {
	if !i.ready {
		return
	}
	switch i.state {
	case StateIdle:
		systray.SetIcon(i.iconIdle)
		systray.SetTooltip("volp - 待機中")
		i.menuStatus.SetTitle("待機中")
	case StateBusy:
		systray.SetIcon(i.iconBusy)
		systray.SetTooltip("volp - 録音・送信中")
		i.menuStatus.SetTitle("録音・送信中")
	}
}

// Quit quits the system tray
func (i *Indicator) Quit() {
	systray.Quit()
}

// loadIconData loads an icon from the assets directory
// If the file cannot be loaded, it returns a fallback placeholder icon
func loadIconData(filename string, fallback []byte) []byte {
	exe, err := os.Executable()
	if err != nil {
		log.Printf("警告: 実行ファイルのパスを取得できませんでした: %v", err)
		return fallback
	}

	iconPath := filepath.Join(filepath.Dir(exe), "assets", "icon", filename)
	data, err := os.ReadFile(iconPath)
	if err != nil {
		return fallback
	}

	return data
}

// getIdleFallback returns the fallback icon data for idle state
func getIdleFallback() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff,
		0x61, 0x00, 0x00, 0x00, 0x18, 0x49, 0x44, 0x41,
		0x54, 0x78, 0xda, 0x62, 0xfc, 0xff, 0xff, 0x3f,
		0x03, 0x00, 0x00, 0x00, 0xff, 0xff, 0x03, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44,
		0xae, 0x42, 0x60, 0x82,
	}
}

// getBusyFallback returns the fallback icon data for busy state
func getBusyFallback() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff,
		0x61, 0x00, 0x00, 0x00, 0x20, 0x49, 0x44, 0x41,
		0x54, 0x78, 0xda, 0x62, 0xfc, 0xcf, 0xc0, 0xc0,
		0xc0, 0xf0, 0x9f, 0x81, 0x81, 0x81, 0x81, 0xff,
		0x19, 0x18, 0x18, 0x18, 0x00, 0x00, 0x00, 0x00,
		0xff, 0xff, 0x03, 0x00, 0x0c, 0x10, 0x02, 0x01,
		0x8b, 0xd5, 0xf8, 0x23, 0x00, 0x00, 0x00, 0x00,
		0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}
}
