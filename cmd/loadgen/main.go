// Loadgen sends a mix of GET and POST requests through the balancer and
// reports how they were spread across backends.
//
// Usage:
//
//	go run ./cmd/loadgen --url http://localhost:8000/ --concurrency 10 --requests 1000 --get-ratio 0.5
//
// Each request carries a fake client address in X-Forwarded-For so ip-hash
// sees many clients.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/lbench/pkg/logger"
)

func main() {
	var opts loadOptions

	pflag.StringVarP(&opts.URL, "url", "u", "http://localhost:8000/", "balancer URL")
	pflag.IntVarP(&opts.Concurrency, "concurrency", "c", 10, "number of concurrent workers")
	pflag.IntVarP(&opts.Requests, "requests", "n", 100, "total number of requests to send")
	pflag.Float64VarP(&opts.GetRatio, "get-ratio", "r", 0.5, "share of requests sent as GET, the rest are POST")
	pflag.StringVar(&opts.Body, "body", `{"title":"T","description":"d"}`, "POST body")
	pflag.IntVar(&opts.Clients, "clients", 50, "number of distinct fake client addresses")
	pflag.Float64Var(&opts.Rate, "rate", 0, "maximum requests per second, 0 for unlimited")
	timeout := pflag.Duration("timeout", 10*time.Second, "per-request timeout")
	outJSON := pflag.String("out", "", "write a JSON summary to this file")
	pflag.Parse()

	log := logger.New(logger.Options{Level: "info", Environment: "dev", Writer: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := &http.Client{Timeout: *timeout}

	rep, err := runLoad(ctx, client, opts)
	if err != nil {
		log.Error("Load run failed", slog.Any("err", err))
		os.Exit(1)
	}

	rep.write(os.Stdout)

	if *outJSON != "" {
		if err := writeJSON(*outJSON, rep); err != nil {
			log.Error("Failed to write JSON summary", slog.Any("err", err))
			os.Exit(1)
		}
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if rep.Failure > 0 {
		os.Exit(2)
	}
}

func writeJSON(path string, rep *report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
