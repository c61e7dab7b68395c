package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/flight"
	"github.com/23skdu/longbow-bodkin/internal/logger"
)

var (
	addr        = flag.String("addr", "0.0.0.0:3000", "Flight listen address")
	metricsAddr = flag.String("metrics-addr", "0.0.0.0:9090", "Prometheus /metrics listen address (empty to disable)")
	chunkLen    = flag.Int("chunk-len", 32, "chunk length for the parallel engine")
	precision   = flag.String("precision", "single", "precision mode (single or double)")
	logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat   = flag.String("log-format", "console", "log format (console or json)")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	prec, err := config.ParsePrecision(*precision)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg := config.Config{ChunkLen: *chunkLen, Precision: prec}

	svc, err := flight.NewService(cfg)
	if err != nil {
		logger.Log.Error("invalid configuration", "err", err)
		os.Exit(2)
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Log.Info("metrics listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Log.Error("metrics server failed", "err", err)
			}
		}()
	}

	if err := svc.Serve(*addr); err != nil {
		logger.Log.Error("flight server failed", "err", err)
		os.Exit(1)
	}
}
