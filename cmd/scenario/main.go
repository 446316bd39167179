// Command scenario runs scripted store, mail and notifier steps.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"contractor-status-relay/internal/app"
	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/scenario"
)

func main() {
	flags := pflag.NewFlagSet("scenario", pflag.ExitOnError)
	name := flags.String("scenario", "", "name of the scenario to run")
	file := flags.String("file", scenario.DefaultFile, "path to the JSON scenario file")
	list := flags.Bool("list", false, "list available scenarios and exit")
	flags.String("log-level", "info", "log level")
	flags.String("db-path", "", "sqlite database path (overrides DB_PATH)")
	_ = flags.Parse(os.Args[1:])

	scenarios, err := scenario.Load(*file)
	if err != nil {
		logrus.Fatal(err)
	}
	if *list {
		for _, n := range scenarios.Names() {
			fmt.Println(n)
		}
		return
	}

	if *name == "" {
		fmt.Fprintln(os.Stderr, "--scenario is required unless --list is specified")
		flags.Usage()
		os.Exit(2)
	}
	steps, ok := scenarios[*name]
	if !ok {
		fmt.Fprintf(os.Stderr, "scenario %q not found in %s\n", *name, *file)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := app.ConfigureLogging(cfg.LogLevel, false); err != nil {
		logrus.Fatal(err)
	}

	components, err := app.Build(cfg, nil)
	if err != nil {
		logrus.Fatal(err)
	}
	defer components.Close()

	logrus.Infof("Running scenario %q from %s", *name, *file)
	executor := scenario.NewExecutor(components.Store, components.Pipeline, components.Notifier)
	outputs, err := executor.Run(context.Background(), steps)
	for _, line := range outputs {
		fmt.Println(line)
	}
	if err != nil {
		logrus.Errorf("Scenario %q failed: %v", *name, err)
		components.Close()
		os.Exit(1)
	}
	logrus.Infof("Scenario %q completed", *name)
}
