// Command relay runs one contractor mail pass followed by a delay check.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"contractor-status-relay/internal/app"
	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/runner"
)

func main() {
	var opts runner.Options
	flags := pflag.NewFlagSet("relay", pflag.ExitOnError)
	opts.BindFlags(flags)
	flags.String("log-level", "info", "log level: debug, info, warning, error or critical")
	flags.String("db-path", "", "sqlite database path (overrides DB_PATH)")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := app.ConfigureLogging(cfg.LogLevel, false); err != nil {
		logrus.Fatal(err)
	}

	// mail-backend and fake-mail are bound into the configuration, so
	// environment values apply when the flags are absent.
	opts.MailBackend = cfg.Mail.Backend
	opts.FakeMail = cfg.Mail.UseFixtures

	components, err := app.Build(cfg, nil)
	if err != nil {
		logrus.Fatal(err)
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := components.Runner.Run(ctx, opts); err != nil {
		logrus.Errorf("Pass failed: %v", err)
		components.Close()
		os.Exit(1)
	}
}
