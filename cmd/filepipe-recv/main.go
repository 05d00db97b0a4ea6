package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantarax/filepipe/internal/config"
	"github.com/quantarax/filepipe/internal/observability"
	"github.com/quantarax/filepipe/internal/orchestrator"
	"github.com/quantarax/filepipe/internal/quicutil"
	"github.com/quantarax/filepipe/internal/receiver"
	"github.com/quantarax/filepipe/internal/transport"
	"github.com/quantarax/filepipe/internal/validation"
)

var (
	configPath string
	listenAddr string
	certFile   string
	keyFile    string
	outputDir  string
)

func main() {
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (host:port)")
	flag.StringVar(&certFile, "cert", "", "PEM certificate file (generated on the fly if empty)")
	flag.StringVar(&keyFile, "key", "", "PEM private key file (generated on the fly if empty)")
	flag.StringVar(&outputDir, "out", ".", "Directory to write received files into")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "filepipe-recv: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	addr := cfg.ListenAddress
	if listenAddr != "" {
		addr = listenAddr
	}
	if err := validation.ValidateAddr(addr); err != nil {
		return fmt.Errorf("listen addr: %w", err)
	}
	if err := validation.ValidateStringNonEmpty(outputDir); err != nil {
		return fmt.Errorf("out: %w", err)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(parseLevel(cfg.LogLevel)).With().Timestamp().Logger()

	if shutdown, err := observability.InitTracing(context.Background(), "filepipe-recv"); err == nil {
		defer shutdown(context.Background())
	}

	metrics := observability.NewMetrics()
	if cfg.MetricsAddress != "" {
		health := observability.NewHealthChecker("filepipe-recv")
		health.RegisterCheck("quic_listener", observability.QUICListenerCheck(addr))
		health.RegisterCheck("session_store", observability.SessionStoreCheck(cfg.SessionDir))
		health.RegisterCheck("disk_space", observability.DiskSpaceCheck(outputDir, 100<<20))

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/healthz", health.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				log.Error().Err(err).Msg("metrics server exited")
			}
		}()
	}

	tlsConfig, err := loadOrGenerateTLS()
	if err != nil {
		return fmt.Errorf("tls setup: %w", err)
	}

	ln, err := transport.Listen(addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer ln.Close()
	log.Info().Str("addr", ln.Addr()).Msg("filepipe receiver listening")

	orchCfg := orchestrator.Config{
		SessionDir:    cfg.SessionDir,
		ResumeDir:     cfg.ResumeDir,
		PersistEveryN: cfg.PersistEveryNChunks,
		WriteMode:     receiver.FlushOnly(),
	}

	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("accept failed")
			continue
		}
		metrics.RecordQUICConnection(true)
		go handleConn(conn, orchCfg, log, metrics)
	}
}

func handleConn(conn *transport.Connection, cfg orchestrator.Config, log zerolog.Logger, metrics *observability.Metrics) {
	peerLog := log.With().Str("peer", conn.PeerAddr()).Logger()
	defer conn.Close("transfer complete")
	defer metrics.RecordQUICConnectionClose(0)

	metrics.RecordTransferStart()
	start := time.Now()
	sess, err := orchestrator.Receive(context.Background(), conn, outputDir, cfg, peerLog)
	metrics.RecordTransferComplete(err == nil, time.Since(start).Seconds())
	if err != nil {
		peerLog.Error().Err(err).Msg("receive failed")
		return
	}
	acked, total := sess.Progress()
	peerLog.Info().Str("state", string(sess.GetState())).Uint64("acked", acked).Uint64("total", total).Msg("transfer finished")
}

// loadOrGenerateTLS loads certFile/keyFile if both are set, otherwise
// generates an ephemeral self-signed certificate for this run.
func loadOrGenerateTLS() (*tls.Config, error) {
	if certFile != "" && keyFile != "" {
		if err := validation.ValidateFilePath(certFile, true); err != nil {
			return nil, fmt.Errorf("cert: %w", err)
		}
		if err := validation.ValidateFilePath(keyFile, true); err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		certPEM, err := os.ReadFile(certFile)
		if err != nil {
			return nil, fmt.Errorf("read cert: %w", err)
		}
		keyPEM, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		return quicutil.MakeTLSConfig(certPEM, keyPEM)
	}
	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate self-signed cert: %w", err)
	}
	return quicutil.MakeTLSConfig(certPEM, keyPEM)
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
