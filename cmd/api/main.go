package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"contractor-status-relay/internal/app"
)

func main() {
	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	flags.String("port", "", "HTTP port (overrides SERVER_PORT)")
	flags.String("log-level", "", "log level (overrides LOG_LEVEL)")
	flags.String("mail-backend", "", "mail backend: auto, oauth, local or fixture")
	flags.String("db-path", "", "sqlite database path (overrides DB_PATH)")
	_ = flags.Parse(os.Args[1:])

	if err := app.Run(flags); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}
