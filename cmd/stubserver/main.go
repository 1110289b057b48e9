// Stubserver is a backend for exercising the balancer. GET and POST requests
// are answered after a configurable delay and /health always reports OK.
//
// Usage:
//
//	go run ./cmd/stubserver --port 8001 --get-delay 1s --post-delay 500ms
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/angeloszaimis/lbench/internal/httpserver"
	"github.com/angeloszaimis/lbench/pkg/logger"
)

type stubOptions struct {
	Name      string
	GetDelay  time.Duration
	PostDelay time.Duration
}

type stubResponse struct {
	ID       string `json:"id"`
	Server   string `json:"server"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	Received int    `json:"received_bytes"`
}

func main() {
	port := pflag.IntP("port", "P", 8001, "port to listen on")
	getDelay := pflag.DurationP("get-delay", "g", time.Second, "delay before answering GET requests")
	postDelay := pflag.DurationP("post-delay", "p", 500*time.Millisecond, "delay before answering POST requests")
	level := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	log := logger.New(logger.Options{Level: *level, Environment: "dev"})

	addr := "127.0.0.1:" + strconv.Itoa(*port)
	srv, err := httpserver.New(addr, newStubHandler(stubOptions{
		Name:      addr,
		GetDelay:  *getDelay,
		PostDelay: *postDelay,
	}, log))
	if err != nil {
		log.Error("Invalid address", slog.Any("err", err))
		os.Exit(1)
	}
	if err := srv.Listen(); err != nil {
		log.Error("Failed to listen", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background(), 5*time.Second)
	}()

	log.Info("Stub backend listening",
		slog.String("address", srv.Addr()),
		slog.Duration("get_delay", *getDelay),
		slog.Duration("post_delay", *postDelay))

	if err := srv.Serve(); err != nil {
		log.Error("Server failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func newStubHandler(opts stubOptions, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var delay time.Duration
		switch r.Method {
		case http.MethodGet:
			delay = opts.GetDelay
		case http.MethodPost:
			delay = opts.PostDelay
		}

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}

		log.Debug("Handled request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("from", r.Header.Get("X-Forwarded-For")),
			slog.Int("bytes", len(body)))

		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		json.NewEncoder(w).Encode(stubResponse{
			ID:       id,
			Server:   opts.Name,
			Method:   r.Method,
			Path:     r.URL.Path,
			Received: len(body),
		})
	})

	return mux
}
