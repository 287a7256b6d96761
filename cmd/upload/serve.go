package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/auth"
	"github.com/stefando/resumableupload/internal/sink"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, dir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local endpoint that assembles uploaded chunks on disk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), addr, dir)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&dir, "dir", "uploads", "directory receiving files")
	return cmd
}

func (a *app) serve(ctx context.Context, addr, dir string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := sink.New(dir, a.log)
	if a.cfg.CognitoPoolID != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, auth.CognitoIssuer(a.cfg.AWSRegion, a.cfg.CognitoPoolID), a.cfg.CognitoClientID)
		if err != nil {
			return err
		}
		server.RequireVerified(verifier)
		a.log.Info("verifying bearer tokens", zap.String("pool", a.cfg.CognitoPoolID))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Info("listening", zap.String("addr", addr), zap.String("dir", dir))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
