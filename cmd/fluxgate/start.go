package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fluxgate/internal/wsfanout"
)

func newStartCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the engine: scheduler, rate limiter, and WebSocket fan-out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", getenv("LISTEN_ADDR", ":8080"), "address for the WebSocket fan-out listener")
	return cmd
}

func runStart(ctx context.Context, addr string) error {
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, log)
	if err != nil {
		return err
	}
	log.Info("instance identity", "uid", eng.inst.UID, "name", eng.inst.Name)

	if err := eng.scheduler.Start(); err != nil {
		return err
	}
	defer eng.scheduler.Stop()

	go func() {
		if err := eng.registrar.Run(ctx, eng.inst); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("instance heartbeat stopped", "err", err)
		}
	}()

	hubStop := make(chan struct{})
	go eng.hub.Run(hubStop)
	defer close(hubStop)

	go func() {
		if err := eng.fanout.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("fan-out subscription stopped", "err", err)
		}
	}()

	limiter := wsfanout.NewRateLimitAdapter(eng.limiter)
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/ws", wsfanout.Handler(eng.hub, eng.tokens, eng.runtime, limiter, eng.runtime, nil, log))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
