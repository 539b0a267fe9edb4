package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/palmscroll/internal/app"
	"github.com/ayusman/palmscroll/internal/logging"
	"github.com/ayusman/palmscroll/internal/telemetry"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var noTray bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the palmscroll daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), ctx, noTray)
		},
	}
	cmd.Flags().BoolVar(&noTray, "no-tray", false, "Run without the system tray")
	return cmd
}

func runDaemon(parent context.Context, c *commandContext, noTray bool) error {
	if parent == nil {
		parent = context.Background()
	}
	runCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := c.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if noTray {
		cfg.Tray.Enabled = false
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	if c.configExists {
		logger.Info("configuration loaded", "path", c.configPath)
	} else {
		logger.Info("no configuration file; using defaults", "path", c.configPath)
	}

	shutdown, err := telemetry.Setup(runCtx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	a, err := app.New(cfg, app.Deps{Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	t := a.Tray()
	if t == nil {
		return a.Run(runCtx)
	}

	// The tray owns the main thread; the daemon runs beside it.
	base, _ := c.baseURL()
	t.OnSettings(func() {
		if err := openURL(base + "/"); err != nil {
			logger.Warn("open settings page", "error", err)
		}
	})
	t.OnQuit(stop)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(runCtx)
		t.Quit()
	}()
	t.Run()
	stop()
	return <-errCh
}

func openURL(u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Start()
}
