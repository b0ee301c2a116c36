package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/broker"
	"github.com/omochice/direct-chat/internal/config"
	"github.com/omochice/direct-chat/internal/logging"
	"github.com/omochice/direct-chat/pkg/stomp"
)

func main() {
	// Parse command-line flags
	addr := flag.String("addr", ":8080", "Address to listen on (e.g., :8080)")
	path := flag.String("path", "/ws", "WebSocket endpoint path")
	secret := flag.String("secret", os.Getenv("DIRECT_CHAT_SECRET"), "HS256 token secret (defaults to $DIRECT_CHAT_SECRET)")
	issue := flag.String("issue", "", "Print a token for this username and exit")
	heartbeat := flag.Duration("heartbeat", 4*time.Second, "Heart-beat interval offered to clients")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if *secret == "" {
		log.Fatal("Secret is required. Use -secret flag or DIRECT_CHAT_SECRET")
	}

	if *issue != "" {
		token, err := broker.IssueToken([]byte(*secret), *issue, 1, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger, err := logging.New(config.LogConfig{Level: *level, Format: "console"})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	srv, err := broker.New(broker.Config{
		Secret:    []byte(*secret),
		HeartBeat: stomp.HeartBeat{Send: *heartbeat, Receive: *heartbeat},
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to create broker: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle(*path, srv)
	httpSrv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting broker", zap.String("addr", *addr), zap.String("path", *path))
		errChan <- httpSrv.ListenAndServe()
	}()

	// Wait for either error or shutdown signal
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("broker error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
		srv.Close()
	}

	logger.Info("broker stopped")
}
