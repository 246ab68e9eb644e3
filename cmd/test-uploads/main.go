package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/raidsync/internal/testuploads"
	"github.com/okian/raidsync/pkg/logger"
)

// Default configuration constants.
const (
	defaultEncounters  = 100
	defaultUploaders   = 4
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultSettle      = time.Minute
	defaultTestTimeout = 10 * time.Minute
	readHeaderTimeout  = 5 * time.Second
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		encounters   = flag.Int("encounters", defaultEncounters, "Number of encounters to simulate")
		uploaders    = flag.Int("uploaders", defaultUploaders, "Players uploading each encounter, 1 to 4")
		workers      = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent uploads")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle       = flag.Duration("settle", defaultSettle, "Maximum wait for summaries to finalize")
		key          = flag.String("key", os.Getenv("RAIDSYNC_SIGNING_KEY"), "Signing key for bearer tokens")
		serveRecords = flag.String("serve-records", "", "Serve a stand-in system of record on this address")
		verbose      = flag.Bool("verbose", false, "Enable verbose logging")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testuploads.ShowHelp()
		return
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(logger.WithLevel(level)); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *serveRecords != "" {
		records := testuploads.NewRecords()
		srv := &http.Server{Addr: *serveRecords, Handler: records, ReadHeaderTimeout: readHeaderTimeout}
		go func() {
			logger.Get().Info(ctx, "serving stand-in system of record", logger.String("addr", *serveRecords))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Get().Error(ctx, "system of record failed", logger.Error(err))
				stop()
			}
		}()
		defer func() {
			_ = srv.Close()
			logger.Get().Info(ctx, "system of record stopped",
				logger.Int64("calls", records.Calls()),
				logger.Int64("notices", records.Notices()))
		}()
		if *encounters == 0 {
			<-ctx.Done()
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()

	config := &testuploads.Config{
		BaseURL:    *baseURL,
		Encounters: *encounters,
		Uploaders:  *uploaders,
		Workers:    *workers,
		Timeout:    *timeout,
		Settle:     *settle,
		SigningKey: *key,
		Verbose:    *verbose,
	}

	if err := testuploads.Run(ctx, config); err != nil {
		logger.Get().Error(ctx, "test failed", logger.Error(err))
		os.Exit(1)
	}
}
