package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"ticksync.dev/internal/logging"
	"ticksync.dev/internal/observability"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/server/match"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/tuning"
	"ticksync.dev/internal/transport/ws"
)

var (
	addr       string
	tuningPath string
	dataDir    string
	disableDB  bool
	logPath    string
	verbosity  int
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Run an authoritative match and stream it to websocket clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, sync, err := logging.New(logPath, verbosity)
		if err != nil {
			return err
		}
		defer sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, log)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "http listen address")
	f.StringVar(&tuningPath, "tuning", "./configs/tuning.yaml", "path to tuning.yaml (built-in defaults when missing)")
	f.StringVar(&dataDir, "data", "./data", "runtime data directory")
	f.BoolVar(&disableDB, "disable_db", false, "disable the sqlite match index")
	f.StringVar(&logPath, "log-path", "", "also write logs to this file")
	f.IntVarP(&verbosity, "verbosity", "v", 0, "log verbosity")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadTuning(path string, log logr.Logger) (tuning.Tuning, error) {
	tun, err := tuning.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("tuning file not found, using defaults", "path", path)
		return tuning.Defaults(), nil
	}
	return tun, err
}

func run(ctx context.Context, log logr.Logger) error {
	tun, err := loadTuning(tuningPath, log)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	codec, err := protocol.NewCodec(tun.Server.CompressThreshold)
	if err != nil {
		return err
	}
	defer codec.Close()

	observability.InitMetrics()

	rec := &recorder{log: log.WithName("recorder")}
	m, err := match.New(match.Config{
		Tuning: tun,
		Arena:  match.DefaultArena(),
		Spawn:  geom.V(0, -32),
	}, codec, rec.hooks(), log.WithName("match"))
	if err != nil {
		return err
	}
	if err := rec.open(ctx, dataDir, m, tun, disableDB); err != nil {
		return err
	}
	defer rec.close()

	mgr := ws.NewManager(ws.Config{
		InboundPerSecond: tun.Server.InboundPerSecond,
		InboundBurst:     tun.Server.InboundBurst,
	}, log.WithName("ws"))
	m.AddManager(mgr)

	mux := http.NewServeMux()
	mux.Handle("/v1/ws", mgr.Handler())
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "http server stopped")
		}
	}()
	log.Info("listening", "addr", ln.Addr().String(), "match", m.ID(), "tick_rate", tun.TickRateHz)

	err = m.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
