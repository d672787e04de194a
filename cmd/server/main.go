package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/o1egl/paseto"
	"github.com/valyala/fasthttp"

	"durakv/internal/api"
	"durakv/internal/config"
	"durakv/internal/engine"
	"durakv/internal/logger"
	"durakv/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", "", "Config path")
	flag.Parse()

	cfg, err := config.LoadConfigurationFromFile(*cfgPath)
	if err != nil {
		log.Fatalf("Config Error: %v", err)
	}

	syslog, err := logger.New(cfg.LogDirectoryPath, cfg.LogSeverityLevel)
	if err != nil {
		log.Fatalf("Logger Error: %v", err)
	}

	store, err := engine.Open(cfg, syslog.EngineSink())
	if err != nil {
		syslog.Error("Engine Error: %v", err)
		syslog.Close()
		os.Exit(1)
	}

	stopExporter := make(chan struct{})
	if cfg.EnablePrometheusMetrics {
		metrics.StartExporter(store, stopExporter)
	}

	if cfg.AuthenticationToken == "" {
		if token, err := mintAdminToken(cfg); err == nil {
			fmt.Printf("ADMIN TOKEN: %s\n", token)
		}
	}

	router := api.NewHttpApiRouter(store, cfg, syslog)
	server := &fasthttp.Server{Handler: router.GetFastHTTPHandler()}

	// The engine's explicit shutdown runs the final flush and checkpoint;
	// wire it to the usual termination signals.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		syslog.Info("Shutting down")
		server.Shutdown()
		close(stopExporter)
		if err := store.Close(); err != nil {
			syslog.Error("Close Error: %v", err)
		}
		syslog.Close()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	syslog.Info("Listening on %s", addr)
	if err := server.ListenAndServe(addr); err != nil {
		syslog.Error("Server Error: %v", err)
		store.Close()
		syslog.Close()
		os.Exit(1)
	}
}

func mintAdminToken(cfg config.SystemConfiguration) (string, error) {
	key := []byte(fmt.Sprintf("%-32s", cfg.AuthenticationSecret))[:32]
	return paseto.NewV2().Encrypt(key, paseto.JSONToken{
		Subject: "admin", Expiration: time.Now().Add(24 * time.Hour),
	}, "")
}
