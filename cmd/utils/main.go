package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pacer/cmd/utils/internal/commands"
)

const (
	appName    = "pacer-utils"
	appVersion = "0.1.0"
	envPrefix  = "UTILS"
)

type command struct {
	name    string
	summary string
	run     func(context.Context, *apt.Config, apt.Logger) error
}

var commandTable = []command{
	{name: "seed-demo", summary: "post demo pre-orders to a running kitchen", run: commands.SeedDemo},
	{name: "sweep", summary: "recompute pacing for one restaurant now", run: commands.Sweep},
	{name: "reset-db", summary: "drop every kitchen ticket (irreversible)", run: commands.ResetDB},
}

// settings documents the keys the commands read; env names derive from them.
var settings = []struct{ key, def string }{
	{"kitchen.url", "http://localhost:8087"},
	{"restaurant", "demo"},
	{"db.driver", "mongo"},
	{"db.mongo.url", "mongodb://localhost:27017"},
	{"db.mongo.name", "pacer_kitchen"},
	{"db.sqlite.path", "kitchen.db"},
	{"log.level", "info"},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	name := os.Args[1]
	switch name {
	case "version":
		fmt.Printf("%s %s\n", appName, appVersion)
		return
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	}

	cmd, ok := lookup(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n\n", appName, name)
		usage(os.Stderr)
		os.Exit(2)
	}

	config, err := apt.LoadConfig(envPrefix, os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot load config: %v\n", appName, err)
		os.Exit(1)
	}
	logger := apt.NewLogger(config.GetStringOrDef("log.level", "info")).With("command", cmd.name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, config, logger); err != nil {
		logger.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("command finished")
}

func lookup(name string) (command, bool) {
	for _, c := range commandTable {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func usage(w *os.File) {
	fmt.Fprintf(w, "%s operates a running kitchen pacing service.\n\n", appName)
	fmt.Fprintf(w, "usage: %s <command> [flags]\n\ncommands:\n", appName)
	for _, c := range commandTable {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "  %-10s %s\n  %-10s %s\n\nsettings (env, default):\n", "version", "print the version", "help", "show this text")
	for _, s := range settings {
		fmt.Fprintf(w, "  %-22s %s\n", envName(s.key), s.def)
	}
}
