// Command volp is an unattended field recorder: a button starts a capture,
// the WAV file is uploaded, and the shareable link is published over MQTT.
//
// Exit codes:
//   - 0: success
//   - 1: pipeline failure (capture, upload or publish)
//   - 2: configuration or startup failure
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/tdu-cpslab/volp/internal/config"
)

const version = "0.1.0"

// commit is set via ldflags at build time
var commit = "unknown"

const (
	exitSuccess         = 0
	exitPipelineFailure = 1
	exitStartupFailure  = 2
)

func init() {
	// systray and the hotkey backend need the main thread
	runtime.LockOSThread()
}

func main() {
	app := &cli.App{
		Name:           "volp",
		Usage:          "Record on button press, upload, and publish the link",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		ExitErrHandler: exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				Value:   config.GetConfigPath(),
				EnvVars: []string{"VOLP_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "path to a .env file loaded before the configuration",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			onceCommand(),
			devicesCommand(),
			watchCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors
		os.Exit(exitPipelineFailure)
	}
}

// exitErrHandler preserves exit codes from cli.Exit
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitPipelineFailure)
}
