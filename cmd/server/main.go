package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/framechat/pkg/chatlog"
	"github.com/aeolun/framechat/pkg/database"
	"github.com/aeolun/framechat/pkg/server"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

var (
	configPath  = flag.String("config", "~/.framechat/server.toml", "Path to config file")
	envFile     = flag.String("env", ".env", "Path to a .env file with FRAMECHAT_DB_* overrides")
	port        = flag.Int("port", 0, "TCP port to listen on (overrides config)")
	httpPort    = flag.Int("http-port", -1, "HTTP port for WebSocket, metrics and health, 0 disables (overrides config)")
	dbPath      = flag.String("db", "", "Path to SQLite database (overrides config)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	profileMode = flag.String("profile", "", "Enable profiling: cpu or mem")
	profilePath = flag.String("profile-path", ".", "Directory for profile data")
	version     = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("FrameChat Server %s\n", Version)
		return
	}

	if err := run(); err != nil {
		logrus.WithError(err).Error("server failed")
		os.Exit(1)
	}
}

func run() error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"})

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*profilePath), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.MemProfileAllocs, profile.ProfilePath(*profilePath), profile.NoShutdownHook).Stop()
	default:
		return fmt.Errorf("unknown profile mode %q (use cpu or mem)", *profileMode)
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(*envFile); err != nil {
		return err
	}

	// Command-line flags override config file
	if *port != 0 {
		config.Server.TCPPort = *port
	}
	if *httpPort >= 0 {
		config.Server.HTTPPort = *httpPort
	}
	if *dbPath != "" {
		config.Database.Driver = database.DriverSQLite
		config.Database.Path = *dbPath
	}
	if *debug || config.Logging.Debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("debug logging enabled")
	}

	if err := config.Validate(); err != nil {
		return err
	}

	dbConfig, err := config.DatabaseConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(dbConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	var chatLog *chatlog.Log
	if config.Logging.ChatLog != "" {
		path, err := config.ChatLogPath()
		if err != nil {
			return err
		}
		chatLog, err = chatlog.Open(path)
		if err != nil {
			return err
		}
		defer chatLog.Close()
	}

	serverConfig := config.ToServerConfig()
	srv := server.NewServer(db, serverConfig, chatLog)
	if err := srv.Start(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"version":  Version,
		"tcp":      srv.Addr().String(),
		"driver":   db.Driver(),
		"chat_log": config.Logging.ChatLog,
	}).Info("FrameChat server started")
	if addr := srv.HTTPAddr(); addr != nil {
		logrus.Infof("WebSocket endpoint: ws://%s/ws, metrics at /metrics", addr)
	}

	srv.StartConsole(os.Stdin, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logrus.Info("shutting down server")
		srv.Shutdown()
	case <-srv.Done():
	}

	<-srv.Done()
	logrus.Info("server stopped")
	return nil
}
