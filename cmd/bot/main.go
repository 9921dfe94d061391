package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	clientmatch "ticksync.dev/internal/client/match"
	"ticksync.dev/internal/client/reconcile"
	"ticksync.dev/internal/logging"
	"ticksync.dev/internal/observability"
	plog "ticksync.dev/internal/persistence/log"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/tick"
	"ticksync.dev/internal/sim/tuning"
	"ticksync.dev/internal/transport/ws"
)

var (
	url            string
	name           string
	players        int
	seed           int64
	duration       time.Duration
	tuningPath     string
	correctionsDir string
	metricsAddr    string
	logPath        string
	verbosity      int
)

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "Join a match as a scripted predicting client",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, sync, err := logging.New(logPath, verbosity)
		if err != nil {
			return err
		}
		defer sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}
		err = run(ctx, log)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&url, "url", "ws://localhost:8080/v1/ws", "match websocket url")
	f.StringVar(&name, "name", "bot", "player name")
	f.IntVar(&players, "players", 1, "local players on this connection")
	f.Int64Var(&seed, "seed", time.Now().UnixNano(), "script seed")
	f.DurationVar(&duration, "duration", 0, "leave after this long (0 runs until interrupted)")
	f.StringVar(&tuningPath, "tuning", "", "path to tuning.yaml (built-in defaults when empty)")
	f.StringVar(&correctionsDir, "corrections", "", "write reconciliation reports under this directory")
	f.StringVar(&metricsAddr, "metrics", "", "serve client metrics on this address")
	f.StringVar(&logPath, "log-path", "", "also write logs to this file")
	f.IntVarP(&verbosity, "verbosity", "v", 0, "log verbosity")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// outbox encodes client packets onto the bridge.
type outbox struct {
	codec  *protocol.Codec
	bridge *ws.Bridge
}

func (o outbox) Send(t tick.Tick, m protocol.Message) error {
	frame, err := o.codec.Encode(t, m)
	if err != nil {
		return err
	}
	return o.bridge.Send(frame)
}

type frame struct {
	tick tick.Tick
	msg  protocol.Message
}

func run(ctx context.Context, log logr.Logger) error {
	tun := tuning.Defaults()
	if tuningPath != "" {
		var err error
		if tun, err = tuning.Load(tuningPath); err != nil {
			return fmt.Errorf("load tuning: %w", err)
		}
	}
	if players < 1 || players > 4 {
		return fmt.Errorf("players must be within 1..4, got %d", players)
	}
	codec, err := protocol.NewCodec(tun.Server.CompressThreshold)
	if err != nil {
		return err
	}
	defer codec.Close()

	if metricsAddr != "" {
		observability.InitMetrics()
		srv := &http.Server{Addr: metricsAddr, Handler: observability.MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	bridge, err := ws.Dial(dialCtx, url, ws.Config{}, log.WithName("ws"))
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer bridge.Close()

	out := outbox{codec: codec, bridge: bridge}
	if err := out.Send(0, &protocol.Join{PlayerName: name, LocalPlayers: uint8(players)}); err != nil {
		return err
	}
	data, backlog, err := awaitMatchData(ctx, codec, bridge, log)
	if err != nil {
		return err
	}
	log.Info("joined", "match", data.MatchID, "session", data.SessionID, "tick", data.CurrentTick, "tick_rate", data.TickRateHz)

	var corrections *plog.CorrectionLogger
	if correctionsDir != "" {
		corrections = plog.NewCorrectionLogger(correctionsDir)
		defer corrections.Close()
	}
	hooks := clientmatch.Hooks{
		OnReconciled: func(rep reconcile.Report) {
			if len(rep.Corrections) > 0 {
				log.V(1).Info("corrected", "state_tick", rep.StateTick, "replayed", rep.Replayed, "entities", len(rep.Corrections))
			}
			if corrections != nil {
				if err := corrections.WriteCorrection(plog.NewCorrectionEntry(data.MatchID, rep)); err != nil {
					log.Error(err, "write correction")
				}
			}
		},
	}
	lm, err := clientmatch.New(clientmatch.Config{Tuning: tun, Players: players},
		data, newScript(players, seed), out, hooks, log.WithName("match"))
	if err != nil {
		return err
	}
	for _, f := range backlog {
		lm.HandleMessage(f.tick, f.msg)
	}

	rate := data.TickRateHz
	if rate <= 0 {
		rate = tun.TickRateHz
	}
	step := time.Second / time.Duration(rate)
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			_ = out.Send(lm.Estimator().EstimateServerTick(), &protocol.Disconnect{})
			return ctx.Err()
		case <-report.C:
			st := lm.SequencerStats()
			log.Info("status",
				"tick", lm.Estimator().Current(),
				"tick_error", lm.Estimator().AverageError(),
				"entities", lm.Entities().Len(),
				"ledger", lm.Ledger().Len(),
				"late", st.Late)
		case now := <-ticker.C:
			for {
				f, ok := bridge.Receive()
				if !ok {
					break
				}
				t, msg, err := codec.Decode(f)
				if err != nil {
					log.V(1).Info("dropping frame", "err", err)
					continue
				}
				if d, ok := msg.(*protocol.Disconnect); ok {
					return fmt.Errorf("disconnected by server: %s", d.Reason)
				}
				lm.HandleMessage(t, msg)
			}
			if !bridge.Connected() {
				return errors.New("connection lost")
			}
			lm.Update(now.Sub(last).Seconds())
			last = now
		}
	}
}

// awaitMatchData reads frames until the server answers the join. Frames
// after MatchData in the same burst are returned for replay.
func awaitMatchData(ctx context.Context, codec *protocol.Codec, bridge *ws.Bridge, log logr.Logger) (*protocol.MatchData, []frame, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()

	var data *protocol.MatchData
	var backlog []frame
	for {
		for {
			f, ok := bridge.Receive()
			if !ok {
				break
			}
			t, msg, err := codec.Decode(f)
			if err != nil {
				log.V(1).Info("dropping frame", "err", err)
				continue
			}
			switch m := msg.(type) {
			case *protocol.Disconnect:
				return nil, nil, fmt.Errorf("join refused: %s", m.Reason)
			case *protocol.MatchData:
				data = m
			default:
				if data != nil {
					backlog = append(backlog, frame{tick: t, msg: msg})
				}
			}
		}
		if data != nil {
			return data, backlog, nil
		}
		if !bridge.Connected() {
			return nil, nil, errors.New("connection lost before join")
		}
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("waiting for match data: %w", ctx.Err())
		case <-poll.C:
		}
	}
}
