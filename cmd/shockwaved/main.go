// Command shockwaved runs a shockwave HTTP/1.1 server using the
// pipeline package's per-connection Reader/Writer engine, with a
// handful of flags for the bits an operator actually needs to tune.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/watt-toolkit/shockwave/pkg/shockwave/accesslog"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/http11"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/pipeline"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/registry"
	"github.com/watt-toolkit/shockwave/pkg/shockwave/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr           string
		queueThreshold int
		maxHandlers    int64
		readTimeout    time.Duration
		writeTimeout   time.Duration
		idleTimeout    time.Duration
		logFormat      string
		accessFormat   string
	)

	cmd := &cobra.Command{
		Use:   "shockwaved",
		Short: "Run a shockwave HTTP server",
		Long:  "shockwaved serves HTTP/1.1 requests with an ordered per-connection Reader/Writer pipeline.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), runOptions{
				addr:           addr,
				queueThreshold: queueThreshold,
				maxHandlers:    maxHandlers,
				readTimeout:    readTimeout,
				writeTimeout:   writeTimeout,
				idleTimeout:    idleTimeout,
				logFormat:      logFormat,
				accessFormat:   accessFormat,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":8080", "address to listen on")
	flags.IntVar(&queueThreshold, "queue-threshold", 32, "per-connection pipeline capacity before the reader applies backpressure")
	flags.Int64Var(&maxHandlers, "max-handlers", 0, "maximum concurrently-running handler tasks across all connections (0 = unbounded)")
	flags.DurationVar(&readTimeout, "read-timeout", 60*time.Second, "deadline for a request's headers once its first byte has arrived")
	flags.DurationVar(&writeTimeout, "write-timeout", 30*time.Second, "per-send write deadline")
	flags.DurationVar(&idleTimeout, "idle-timeout", 120*time.Second, "idle deadline between pipelined requests")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&accessFormat, "access-log-format", "json", "access log format: json, tskv, or none")

	return cmd
}

type runOptions struct {
	addr           string
	queueThreshold int
	maxHandlers    int64
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	logFormat      string
	accessFormat   string
}

func run(ctx context.Context, opts runOptions) error {
	log := logrus.New()
	if opts.logFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	entry := logrus.NewEntry(log)

	var access accesslog.Sink
	switch opts.accessFormat {
	case "tskv":
		access = accesslog.NewTSKVSink(nil)
	case "none":
		access = nil
	default:
		access = accesslog.NewJSONSink(nil)
	}

	ccfg := pipeline.DefaultConnectionConfig()
	ccfg.RequestsQueueSizeThreshold = opts.queueThreshold
	ccfg.ReadTimeout = opts.readTimeout
	ccfg.WriteTimeout = opts.writeTimeout
	ccfg.IdleTimeout = opts.idleTimeout

	cfg := server.DefaultConfig()
	cfg.Addr = opts.addr
	cfg.MaxConcurrentHandlers = opts.maxHandlers
	cfg.Connection = ccfg
	cfg.Access = access
	cfg.Log = entry
	cfg.Handler = exampleHandler

	srv := server.New(cfg, nil)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		entry.WithField("addr", opts.addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("shockwaved: %w", err)
		}
		return nil
	case <-sigCtx.Done():
		entry.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// exampleHandler is shockwaved's default routing: a trivial dispatcher
// standing in for a real application's handler registry. A real
// deployment replaces this with its own registry.HandlerFunc.
func exampleHandler(ctx context.Context, w *http11.ResponseWriter, r *http11.Request) error {
	if r.Path() == "/healthz" {
		return w.WriteText(http.StatusOK, []byte("ok"))
	}
	return w.WriteText(http.StatusNotFound, []byte("not found"))
}

var _ registry.HandlerFunc = exampleHandler
