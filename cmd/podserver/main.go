package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/config"
	"github.com/waterloop/podserver/internal/server"
)

func main() {
	log.SetLevel(log.InfoLevel)

	cfg, err := config.ParseArgs(os.Args)
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.WithError(err).Error("failed to start pod server")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("shutting down")
		cancel()
	}()

	log.WithFields(log.Fields{
		"tcp_addr": cfg.TCPAddress,
		"can":      cfg.CANInterface,
		"channel":  cfg.CANChannel,
	}).Info("pod server starting")

	srv.Start(ctx)

	if err := srv.Wait(); err != nil {
		log.WithError(err).Error("pod server terminated with error")
		os.Exit(1)
	}
}
