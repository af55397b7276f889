//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/framegrab/cmd"
	"github.com/smazurov/framegrab/internal/capture"
	"github.com/smazurov/framegrab/internal/config"
	"github.com/smazurov/framegrab/internal/events"
	"github.com/smazurov/framegrab/internal/logging"
	"github.com/smazurov/framegrab/internal/metrics"
	"github.com/smazurov/framegrab/internal/systemd"
	"github.com/smazurov/framegrab/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"framegrab.toml"`

	// Capture settings
	Device      string `help:"Video device node or stable device ID" short:"d" default:"/dev/video0" toml:"capture.device" env:"DEVICE"`
	Width       int    `help:"Requested frame width" default:"640" toml:"capture.width" env:"WIDTH"`
	Height      int    `help:"Requested frame height" default:"480" toml:"capture.height" env:"HEIGHT"`
	PixelFormat string `help:"Requested pixel format (rgb24, bgr24, yuyv, mjpeg or a fourcc)" default:"rgb24" toml:"capture.pixel_format" env:"PIXEL_FORMAT"`
	Buffers     int    `help:"Number of driver buffers to request" default:"2" toml:"capture.buffers" env:"BUFFERS"`
	Frames      int    `help:"Frames to capture, 0 runs until interrupted" short:"n" default:"1" toml:"capture.frames" env:"FRAMES"`
	Timeout     string `help:"Readiness wait timeout" default:"2s" toml:"capture.timeout" env:"TIMEOUT"`
	MaxTimeouts int    `help:"Consecutive timeouts before giving up, 0 retries forever" default:"0" toml:"capture.max_timeouts" env:"MAX_TIMEOUTS"`
	WaitDevice  bool   `help:"Wait for the device node to appear" default:"false" toml:"capture.wait_device" env:"WAIT_DEVICE"`
	Simulate    bool   `help:"Capture from a simulated device" default:"false" toml:"capture.simulate" env:"SIMULATE"`

	// Output settings
	Sink       string `help:"Frame sink (ppm, packet, discard)" default:"ppm" toml:"output.sink" env:"SINK"`
	Output     string `help:"Output directory for frame files" short:"o" default:"." toml:"output.dir" env:"OUTPUT_DIR"`
	Pattern    string `help:"File name pattern for frames" default:"frame-%04d.ppm" toml:"output.pattern" env:"OUTPUT_PATTERN"`
	StrictSink bool   `help:"Abort the capture when the sink fails" default:"false" toml:"output.strict_sink" env:"STRICT_SINK"`

	// Metrics settings
	MetricsAddr string `help:"Serve Prometheus metrics on this address" default:"" toml:"metrics.addr" env:"METRICS_ADDR"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingDevice  string `help:"Device layer (v4l2) logging level" default:"info" toml:"logging.v4l2" env:"LOGGING_V4L2"`
	LoggingSink    string `help:"Sink logging level" default:"info" toml:"logging.sink" env:"LOGGING_SINK"`
}

// captureOptions validates the CLI options and converts them for the runner.
func captureOptions(opts *Options) (capture.Options, error) {
	if opts.Width < 0 || opts.Height < 0 || opts.Buffers < 0 {
		return capture.Options{}, fmt.Errorf("width, height and buffers must not be negative")
	}
	pf, err := capture.ParsePixelFormat(opts.PixelFormat)
	if err != nil {
		return capture.Options{}, err
	}
	timeout, err := time.ParseDuration(opts.Timeout)
	if err != nil {
		return capture.Options{}, fmt.Errorf("invalid timeout: %w", err)
	}
	return capture.Options{
		Device:      opts.Device,
		Width:       uint32(opts.Width),
		Height:      uint32(opts.Height),
		PixelFormat: pf,
		Buffers:     uint32(opts.Buffers),
		Frames:      opts.Frames,
		Timeout:     timeout,
		MaxTimeouts: opts.MaxTimeouts,
		StrictSink:  opts.StrictSink,
		WaitDevice:  opts.WaitDevice,
		Simulate:    opts.Simulate,
	}, nil
}

func main() {
	exitCode := capture.ExitOK

	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// CLI > env > file
		loadErr := config.LoadConfig(opts, cli.Root())

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"capture": opts.LoggingCapture,
				"v4l2":    opts.LoggingDevice,
				"sink":    opts.LoggingSink,
			},
		})
		logger := logging.GetLogger("main")
		if loadErr != nil {
			logger.Warn("Failed to load config", "config", opts.Config, "error", loadErr)
		}

		ctx, cancel := context.WithCancel(context.Background())
		finished := make(chan struct{})
		var stopOnce sync.Once

		hooks.OnStart(func() {
			defer close(finished)
			defer cancel()
			exitCode = run(ctx, opts)
		})

		hooks.OnStop(func() {
			stopOnce.Do(func() {
				logger.Info("Interrupted, stopping capture")
				cancel()
				<-finished
			})
		})
	})

	cli.Root().Use = "framegrab"
	cli.Root().Short = "Capture frames from a V4L2 video device"
	cli.Root().Version = version.Get().String()

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreatePacketCmd())

	cli.Run()
	os.Exit(exitCode)
}

// run performs one capture with the ambient services around it and returns
// the process exit code.
func run(ctx context.Context, opts *Options) int {
	logger := logging.GetLogger("main")
	logger.Info("Starting framegrab", version.Get().LogAttrs()...)

	captureOpts, err := captureOptions(opts)
	if err != nil {
		logger.Error("Invalid options", "error", err)
		return capture.ExitFailure
	}

	s, err := capture.NewSink(opts.Sink, opts.Output, opts.Pattern)
	if err != nil {
		logger.Error("Failed to create sink", "error", err)
		return capture.ExitFailure
	}

	watcher := config.NewConfigWatcher(opts.Config, config.LoadLoggingConfig, logging.GetLogger("config"))
	watcher.OnReload(func(cfg logging.Config) {
		logging.Initialize(cfg)
		logger.Info("Logging configuration reloaded", "level", cfg.Level)
	})
	if startErr := watcher.Start(); startErr != nil {
		logger.Debug("Config watcher not started, hot-reload disabled", "error", startErr)
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	bus := events.New()

	if opts.MetricsAddr != "" {
		m := metrics.New()
		detach := m.Attach(bus)
		defer detach()
		go func() {
			if serveErr := m.Serve(ctx, opts.MetricsAddr); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "addr", opts.MetricsAddr, "error", serveErr)
			}
		}()
	}

	notifier := systemd.NewNotifier()
	notifier.StartWatchdog(ctx)

	runner := capture.NewRunner(captureOpts, s,
		capture.WithBus(bus),
		capture.WithNotifier(notifier))

	err = runner.Run(ctx)
	code := capture.ExitCode(err)
	switch code {
	case capture.ExitOK:
		stats := runner.Stats()
		logger.Info("Capture complete", "captured", stats.Captured, "dropped", stats.Dropped)
	case capture.ExitInterrupted:
		logger.Info("Capture interrupted", "captured", runner.Stats().Captured)
	default:
		logger.Error("Capture failed", capture.ErrorAttrs(err)...)
	}
	return code
}
