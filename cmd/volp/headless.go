//go:build !desktop

package main

import (
	"errors"

	"github.com/tdu-cpslab/volp/internal/config"
)

// errDesktopUnavailable is returned for desktop-only features in headless builds
var errDesktopUnavailable = errors.New("this build has no desktop support (rebuild with -tags desktop)")

func openHotkey(cfg config.TriggerConfig) (closableInput, string, error) {
	return nil, "", errDesktopUnavailable
}

func newTrayIndicator(onReady, onQuit func()) (desktopIndicator, error) {
	return nil, errDesktopUnavailable
}
