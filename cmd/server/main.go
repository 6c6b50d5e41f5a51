package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/careline/chat-service/internal/api"
	"github.com/careline/chat-service/internal/config"
	"github.com/careline/chat-service/internal/directory"
	"github.com/careline/chat-service/internal/identity"
	"github.com/careline/chat-service/internal/notify"
	"github.com/careline/chat-service/internal/relay"
	"github.com/careline/chat-service/internal/stats"
	"github.com/careline/chat-service/internal/store"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	directoryURL   string
	notifyURL      string
	allowedOrigins stringSliceFlag
)

func main() {
	logger := log.New(os.Stderr, "[chat-service] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Fatal("load .env:", err)
	}

	env, err := config.LoadEnv()
	if err != nil {
		logger.Fatal("env:", err)
	}

	flag.StringVar(&addr, "addr", env.ServerAddr, "server address")
	flag.StringVar(&dsn, "dsn", env.DatabaseDSN, "database connection string")
	flag.StringVar(&signingKey, "signing-key", env.SigningKey, "base64 encoded signing key")
	flag.StringVar(&directoryURL, "directory-url", env.DirectoryURL, "appointment service base URL")
	flag.StringVar(&notifyURL, "notify-url", env.NotifyURL, "notification service base URL (optional)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = env.AllowedOrigins
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, directoryURL, notifyURL, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	msgStore, err := store.NewPgMessageStore(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := msgStore.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := msgStore.Migrate(); err != nil {
		logger.Fatal("migrate:", err)
	}

	dir := directory.NewHTTPDirectory(cfg.DirectoryURL)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.NotifyURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.NotifyURL, logger)
	}

	verifier := identity.NewTokenVerifier(cfg.SigningKey)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	relayServer, err := relay.NewRelayServer(logger, msgStore, dir, notifier, statsUpdater)
	if err != nil {
		logger.Fatal("new relay server:", err)
	}

	srv := api.NewChatApp(mux, logger, relayServer, msgStore, dir, verifier, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go relayServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down relay server...")
	if err := relayServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("relay server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
