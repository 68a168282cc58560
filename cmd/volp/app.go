package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tdu-cpslab/volp/internal/api"
	"github.com/tdu-cpslab/volp/internal/audio"
	"github.com/tdu-cpslab/volp/internal/auth"
	"github.com/tdu-cpslab/volp/internal/clock"
	"github.com/tdu-cpslab/volp/internal/config"
	"github.com/tdu-cpslab/volp/internal/controller"
	"github.com/tdu-cpslab/volp/internal/logger"
	"github.com/tdu-cpslab/volp/internal/metrics"
	"github.com/tdu-cpslab/volp/internal/recording"
	"github.com/tdu-cpslab/volp/internal/server"
	"github.com/tdu-cpslab/volp/internal/telemetry"
	"github.com/tdu-cpslab/volp/internal/trigger"
	"github.com/tdu-cpslab/volp/internal/upload"
)

// App holds all application state
type App struct {
	logger      *logger.Logger
	config      *config.Config
	audioDriver audio.AudioDriver
	audioConfig audio.Config
	metrics     *metrics.Metrics
	publisher   *telemetry.Publisher
	indicator   desktopIndicator
	httpServer  *server.Server
	loop        *controller.Loop

	// closers run in reverse order on shutdown
	closers []io.Closer
}

// desktopIndicator is the tray icon of a bench machine
type desktopIndicator interface {
	trigger.Output
	SetLink(link string)
	Run()
	Quit()
}

// closableInput is a trigger input that holds a system resource
type closableInput interface {
	trigger.Input
	io.Closer
}

// loadConfig reads the .env file and the YAML configuration named by the global flags
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadEnv(c.String("env")); err != nil {
		return nil, err
	}
	return config.Load(c.String("config"))
}

// newApp loads and validates the configuration and opens the logger.
// A non-empty mode overrides the configured one.
func newApp(c *cli.Context, mode string) (*App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("設定ファイルの読み込みに失敗: %v", err), exitStartupFailure)
	}

	if mode != "" {
		cfg.Mode = mode
	}

	if c.IsSet("exit-on-error") {
		cfg.ExitOnError = c.Bool("exit-on-error")
	}
	if c.IsSet("tray") {
		cfg.Trigger.Tray = c.Bool("tray")
	}
	if c.IsSet("duration") {
		cfg.Capture.Duration = c.Duration("duration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("設定が不正です: %v", err), exitStartupFailure)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("ロガーの初期化に失敗: %v", err), exitStartupFailure)
	}

	app := &App{logger: log, config: cfg}
	app.logger.Info("volp v%s 起動", version)
	app.logger.Info("設定ファイルを読み込みました: %s", c.String("config"))
	return app, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.DefaultConfig()
	if cfg.Log.Dir != "" {
		dir, err := config.ExpandPath(cfg.Log.Dir)
		if err != nil {
			return nil, err
		}
		loggerConfig.LogDir = dir
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	loggerConfig.Level = level
	loggerConfig.RetentionDays = cfg.Log.RetentionDays
	return logger.New(loggerConfig)
}

// audioConfigFrom maps the file configuration onto the driver configuration
func audioConfigFrom(cfg config.AudioConfig) (audio.Config, error) {
	sampleType, err := audio.ParseSampleType(cfg.SampleType)
	if err != nil {
		return audio.Config{}, err
	}
	latency := audio.HighStability
	if cfg.Latency == "low" {
		latency = audio.LowLatency
	}
	return audio.Config{
		DeviceID:        cfg.DeviceID,
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		Latency:         latency,
		SampleType:      sampleType,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}, nil
}

// build acquires every collaborator of the control loop.
// Pins and the hotkey are acquired once here and released by Close.
func (a *App) build(ctx context.Context, edge bool) error {
	cfg := a.config

	var err error
	a.audioConfig, err = audioConfigFrom(cfg.Audio)
	if err != nil {
		return err
	}

	driver, err := audio.NewPortAudioDriver()
	if err != nil {
		return fmt.Errorf("PortAudioドライバの作成に失敗: %w", err)
	}
	a.audioDriver = driver
	a.closers = append(a.closers, driver)
	a.logger.Info("オーディオドライバ初期化完了 (device=%d, %d Hz, %s)", a.audioConfig.DeviceID, a.audioConfig.SampleRate, a.audioConfig.SampleType)

	var input trigger.Input
	if edge {
		input, err = a.openTrigger()
		if err != nil {
			return err
		}
	}

	indicator, err := a.openIndicator()
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	if err := a.openPublisher(); err != nil {
		return err
	}

	a.metrics = metrics.New()

	soundDir, err := config.ExpandPath(cfg.SoundDir)
	if err != nil {
		return err
	}

	recorder := recording.New(a.audioDriver, recording.Config{
		MaxDuration: cfg.Capture.MaxDuration,
		Clock:       clock.Real(),
	})

	deps := controller.Deps{
		Trigger:   input,
		Indicator: indicator,
		Recorder:  recorder,
		Store:     store,
		Publisher: a.publisher,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}
	if a.indicator != nil {
		deps.OnPublished = a.indicator.SetLink
	}

	a.loop = controller.New(controller.Config{
		SoundDir:     soundDir,
		Audio:        a.audioConfig,
		PollInterval: cfg.Capture.PollInterval,
		Duration:     cfg.Capture.Duration,
		Topic:        cfg.Telemetry.Topic,
		StageTimeout: cfg.StageTimeout,
		ExitOnError:  cfg.ExitOnError,
		Clock:        clock.Real(),
	}, deps)

	return nil
}

func (a *App) openTrigger() (trigger.Input, error) {
	cfg := a.config.Trigger

	switch cfg.Source {
	case config.SourceHotkey:
		input, desc, err := openHotkey(cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, input)
		a.logger.Info("ホットキー登録完了: %s", desc)
		return input, nil

	default:
		pin, err := trigger.OpenInput(cfg.InputPin, cfg.ActiveHigh)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pin)
		a.logger.Info("トリガー入力: %s", pin.Name())
		return pin, nil
	}
}

func (a *App) openIndicator() (trigger.Output, error) {
	var outputs trigger.MultiOutput

	if pinName := a.config.Trigger.OutputPin; pinName != "" && a.config.Trigger.Source == config.SourceGPIO {
		pin, err := trigger.OpenOutput(pinName)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pin)
		outputs = append(outputs, pin)
		a.logger.Info("インジケーター出力: %s", pin.Name())
	}

	if a.indicator != nil {
		outputs = append(outputs, a.indicator)
	}

	if len(outputs) == 0 {
		return trigger.NopOutput{}, nil
	}
	return outputs, nil
}

func (a *App) openStore(ctx context.Context) (upload.Store, error) {
	cfg := a.config.Storage

	switch cfg.Backend {
	case config.BackendS3:
		store, err := upload.NewS3Store(ctx, upload.S3Config{
			Bucket:        cfg.S3.Bucket,
			Prefix:        cfg.S3.Prefix,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			UsePathStyle:  cfg.S3.UsePathStyle,
			PresignExpiry: cfg.S3.PresignExpiry,
			MIMEType:      upload.MIMETypeWAV,
		})
		if err != nil {
			return nil, err
		}
		a.logger.Info("ストレージ: s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
		return store, nil

	default:
		credentials, err := config.ExpandPath(cfg.Drive.Credentials)
		if err != nil {
			return nil, err
		}
		tokens, err := auth.LoadServiceAccount(credentials)
		if err != nil {
			return nil, err
		}
		a.logger.Info("ストレージ: Google Drive (%s)", credentials)
		return &upload.DriveStore{
			Tokens:    tokens,
			Client:    upload.NewDriveClient(cfg.Drive.Timeout),
			FolderID:  cfg.Drive.FolderID,
			UploadURL: cfg.Drive.UploadURL,
			ShareBase: cfg.Drive.ShareBase,
			MIMEType:  upload.MIMETypeWAV,
		}, nil
	}
}

func (a *App) openDialer() (*telemetry.PahoDialer, error) {
	cfg := a.config.Telemetry

	paths := make([]string, 3)
	for i, p := range []string{cfg.CertFile, cfg.KeyFile, cfg.CAFile} {
		expanded, err := config.ExpandPath(p)
		if err != nil {
			return nil, err
		}
		paths[i] = expanded
	}

	tlsConfig, err := telemetry.LoadTLSConfig(paths[0], paths[1], paths[2])
	if err != nil {
		return nil, err
	}

	pahoConfig := telemetry.DefaultPahoConfig()
	pahoConfig.Endpoint = cfg.Endpoint
	pahoConfig.Port = cfg.Port
	pahoConfig.ClientID = cfg.ClientID
	pahoConfig.KeepAlive = cfg.KeepAlive
	pahoConfig.TLS = tlsConfig
	return telemetry.NewPahoDialer(pahoConfig), nil
}

func (a *App) openPublisher() error {
	dialer, err := a.openDialer()
	if err != nil {
		return err
	}

	a.publisher = telemetry.New(dialer, telemetry.Config{
		AckTimeout:  a.config.Telemetry.AckTimeout,
		GracePeriod: a.config.Telemetry.GracePeriod,
		Clock:       clock.Real(),
	})
	a.closers = append(a.closers, a.publisher)
	a.logger.Info("ブローカー: %s (topic=%s)", dialer.BrokerURL(), a.config.Telemetry.Topic)
	return nil
}

// startServer serves /metrics and the status API when enabled
func (a *App) startServer() {
	if !a.config.Server.Enabled {
		return
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Host = a.config.Server.Host
	serverConfig.Port = a.config.Server.Port
	serverConfig.Logger = a.logger
	a.httpServer = server.New(serverConfig)

	apiHandler := api.New(a.config, a.loop)
	apiHandler.SetAudioDriver(a.audioDriver)
	apiHandler.RegisterRoutes(a.httpServer.GetMux())
	a.httpServer.Handle("/metrics", a.metrics.Handler())

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("HTTPサーバーの起動に失敗: %v", err)
		a.httpServer = nil
		return
	}
	a.logger.Info("ステータスAPI: %s/api/status", a.httpServer.URL())
}

// Close releases everything build acquired
func (a *App) Close() {
	if a.httpServer != nil {
		if err := a.httpServer.Stop(); err != nil {
			a.logger.Warn("HTTPサーバーの停止に失敗: %v", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("終了処理でエラー: %v", err)
		}
	}
	a.closers = nil
	a.logger.Info("終了しました")
	a.logger.Close()
}

// printBanner shows where to look while the recorder runs
func (a *App) printBanner(mode string) {
	fmt.Fprintln(os.Stderr, "==========================================================")
	fmt.Fprintf(os.Stderr, "[起動] volp %s (%s)\n", version, mode)
	fmt.Fprintf(os.Stderr, "[保存] %s\n", a.config.SoundDir)
	fmt.Fprintf(os.Stderr, "[ログ] %s\n", a.logger.Path())
	if a.httpServer != nil {
		fmt.Fprintf(os.Stderr, "[状態] %s/api/status\n", a.httpServer.URL())
	}
	fmt.Fprintln(os.Stderr, "[終了] Ctrl+C")
	fmt.Fprintln(os.Stderr, "==========================================================")
}
