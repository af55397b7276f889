// Package logging provides structured logging with per-module log level configuration.
//
// Loggers are plain [log/slog] loggers tagged with a "module" attribute.
// Output goes to stderr when it is a terminal, pipe, socket or file, and to
// the systemd journal when journald is reachable, or to both through a
// MultiHandler.
//
// Initialize once at startup, and again whenever the configuration
// changes:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"v4l2": "debug",
//		},
//	})
//
//	logger := logging.GetLogger("capture")
//	logger.Info("Capture started", "device", path)
//
// Each module logger holds a [slog.LevelVar], so a later Initialize changes
// the level of loggers that were already handed out.
//
// Journal entries carry SYSLOG_IDENTIFIER=framegrab and one upper-cased
// field per attribute:
//
//	journalctl -t framegrab MODULE=capture
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	v4l2 = "debug"
//	sink = "warn"
package logging
