package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/framechat/pkg/client"
	"github.com/sirupsen/logrus"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "~/.config/framechat/client.toml", "Path to config file")
	server := flag.String("server", "", "Server address: host:port or ws://host:port/ws (overrides config)")
	mailbox := flag.String("mailbox", "", "Response mailbox: file or memory (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	resetConfig := flag.Bool("reset-config", false, "Back up the config file and write defaults")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("FrameChat Client %s\n", Version)
		return
	}

	// Diagnostics would interleave with the prompt; keep them out of the way
	// unless asked for
	logrus.SetOutput(io.Discard)
	if *debug {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *resetConfig {
		if err := client.ResetConfigToDefault(*configPath, true); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to reset config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config reset to defaults")
		return
	}

	config, err := client.LoadClientConfig(*configPath)
	if err != nil {
		var cfgErr *client.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "Config error: %v\nRun with -reset-config to restore defaults.\n", cfgErr)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		}
		os.Exit(1)
	}

	opts, err := config.ToOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		opts.ServerAddr = *server
	}
	if *mailbox != "" {
		opts.Mailbox = *mailbox
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, opts, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := c.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
