package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tdu-cpslab/volp/internal/audio"
	"github.com/tdu-cpslab/volp/internal/config"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Wait for the trigger and run a cycle on every press",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "tray",
				Usage: "show the pipeline state in the system tray",
			},
			&cli.BoolFlag{
				Name:  "exit-on-error",
				Usage: "stop on the first failed cycle instead of returning to idle",
			},
		},
		Action: func(c *cli.Context) error {
			return runPipeline(c, "")
		},
	}
}

func onceCommand() *cli.Command {
	return &cli.Command{
		Name:  "once",
		Usage: "Record for a fixed duration, upload, publish and exit",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Usage:   "capture length (overrides capture.duration)",
			},
		},
		Action: func(c *cli.Context) error {
			return runPipeline(c, config.ModeOnce)
		},
	}
}

// runPipeline builds the control loop and drives it until it finishes or a signal arrives
func runPipeline(c *cli.Context, mode string) error {
	app, err := newApp(c, mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	edge := app.config.Mode == config.ModeEdge
	run := func() error {
		if edge {
			return app.loop.Run(ctx)
		}
		return app.loop.RunOnce(ctx)
	}

	errCh := make(chan error, 1)
	if app.config.Trigger.Tray {
		indicator, err := newTrayIndicator(func() {
			go func() {
				errCh <- run()
				app.indicator.Quit()
			}()
		}, stop)
		if err != nil {
			app.Close()
			return cli.Exit(fmt.Sprintf("トレイの初期化に失敗: %v", err), exitStartupFailure)
		}
		app.indicator = indicator
	}

	if err := app.build(ctx, edge); err != nil {
		app.logger.Error("初期化に失敗: %v", err)
		app.Close()
		return cli.Exit(fmt.Sprintf("初期化に失敗: %v", err), exitStartupFailure)
	}
	defer app.Close()

	app.startServer()
	app.printBanner(app.config.Mode)

	var runErr error
	if app.indicator != nil {
		// Blocks on the main thread until Quit
		app.indicator.Run()
		stop()
		runErr = <-errCh
	} else {
		runErr = run()
	}

	if runErr != nil {
		if ctx.Err() != nil {
			app.logger.Info("シグナルを受信しました。終了します")
			return nil
		}
		app.logger.Error("パイプラインが失敗しました: %v", runErr)
		return cli.Exit(fmt.Sprintf("パイプラインが失敗しました: %v", runErr), exitPipelineFailure)
	}
	return nil
}

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List audio input devices",
		Action: func(c *cli.Context) error {
			driver, err := audio.NewPortAudioDriver()
			if err != nil {
				return cli.Exit(fmt.Sprintf("PortAudioドライバの作成に失敗: %v", err), exitStartupFailure)
			}
			defer driver.Close()

			devices, err := driver.ListDevices()
			if err != nil {
				return cli.Exit(fmt.Sprintf("デバイス一覧の取得に失敗: %v", err), exitStartupFailure)
			}

			fmt.Fprint(c.App.Writer, formatDevices(devices))
			return nil
		},
	}
}

// formatDevices renders one line per device, marking the system default
func formatDevices(devices []audio.Device) string {
	if len(devices) == 0 {
		return "入力デバイスが見つかりません\n"
	}
	out := ""
	for _, d := range devices {
		mark := " "
		if d.IsDefault {
			mark = "*"
		}
		out += fmt.Sprintf("%s %3d  %-40s  %d ch  %.0f Hz\n", mark, d.ID, d.Name, d.Channels, d.Rate)
	}
	return out
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Subscribe to the link topic and print every published link",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "stop after this long (0 waits until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(fmt.Sprintf("設定ファイルの読み込みに失敗: %v", err), exitStartupFailure)
			}
			log, err := newLogger(cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("ロガーの初期化に失敗: %v", err), exitStartupFailure)
			}
			defer log.Close()

			// The broker drops an existing session that reuses a client ID
			cfg.Telemetry.ClientID = watchClientID(cfg.Telemetry.ClientID)

			app := &App{logger: log, config: cfg}
			dialer, err := app.openDialer()
			if err != nil {
				return cli.Exit(fmt.Sprintf("ブローカー設定が不正です: %v", err), exitStartupFailure)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			log.Info("購読開始: %s (topic=%s)", dialer.BrokerURL(), cfg.Telemetry.Topic)
			err = dialer.Watch(ctx, cfg.Telemetry.Topic, func(link string, err error) {
				if err != nil {
					log.Warn("不正なメッセージ: %v", err)
					return
				}
				fmt.Fprintf(c.App.Writer, "%s  %s\n", time.Now().Format(time.RFC3339), link)
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("購読に失敗: %v", err), exitPipelineFailure)
			}
			return nil
		},
	}
}

func watchClientID(id string) string {
	return id + "-watch"
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "volp %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
