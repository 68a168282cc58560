//go:build desktop

package main

import (
	"fmt"

	"github.com/tdu-cpslab/volp/internal/config"
	"github.com/tdu-cpslab/volp/internal/tray"
	"github.com/tdu-cpslab/volp/internal/trigger/hotkey"
)

// openHotkey registers the configured global hotkey as the trigger
func openHotkey(cfg config.TriggerConfig) (closableInput, string, error) {
	mods, key, err := hotkey.Parse(cfg.Hotkey)
	if err != nil {
		return nil, "", err
	}
	mode, err := hotkey.ParseMode(cfg.HotkeyMode)
	if err != nil {
		return nil, "", err
	}

	input := hotkey.NewInput(hotkey.Config{Modifiers: mods, Key: key, Mode: mode})
	if err := input.Register(); err != nil {
		return nil, "", err
	}
	return input, fmt.Sprintf("%s (%s)", hotkey.Format(mods, key), mode), nil
}

// newTrayIndicator creates the tray icon; onReady runs once systray is up
func newTrayIndicator(onReady, onQuit func()) (desktopIndicator, error) {
	return tray.NewIndicator(tray.Config{OnReady: onReady, OnQuit: onQuit}), nil
}
