package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantarax/filepipe/internal/codec"
	"github.com/quantarax/filepipe/internal/config"
	"github.com/quantarax/filepipe/internal/observability"
	"github.com/quantarax/filepipe/internal/orchestrator"
	"github.com/quantarax/filepipe/internal/quicutil"
	"github.com/quantarax/filepipe/internal/transport"
	"github.com/quantarax/filepipe/internal/validation"
)

var (
	configPath  string
	addr        string
	filePath    string
	chunkSize   uint
	compression string
	insecure    bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&addr, "addr", "", "Receiver address (host:port)")
	flag.StringVar(&filePath, "file", "", "File to send")
	flag.UintVar(&chunkSize, "chunk-size", 0, "Chunk size in bytes (0 = use config/default)")
	flag.StringVar(&compression, "compression", "", "Compression codec: none, lz4, lz4hc, zstd, lzma2")
	flag.BoolVar(&insecure, "insecure", true, "Skip server certificate verification (development default)")
	flag.Parse()

	if addr == "" || filePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: filepipe-send -addr host:port -file path [flags]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "filepipe-send: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := validation.ValidateFilePath(filePath, true); err != nil {
		return fmt.Errorf("file: %w", err)
	}
	if err := validation.ValidateAddr(addr); err != nil {
		return fmt.Errorf("addr: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(parseLevel(cfg.LogLevel)).With().Timestamp().Logger()

	if shutdown, err := observability.InitTracing(context.Background(), "filepipe-send"); err == nil {
		defer shutdown(context.Background())
	}

	comp := codec.Tag(cfg.Compression)
	if compression != "" {
		comp = codec.Tag(compression)
	}
	cs := cfg.ChunkSize
	if chunkSize != 0 {
		cs = uint32(chunkSize)
	}

	clientTLS := quicutil.MakeClientTLSConfig()
	clientTLS.InsecureSkipVerify = insecure

	dialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, err := transport.Dial(dialCtx, addr, clientTLS)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close("transfer complete")

	orchCfg := orchestrator.Config{
		ChunkSize:     cs,
		Compression:   comp,
		SessionDir:    cfg.SessionDir,
		ResumeDir:     cfg.ResumeDir,
		PersistEveryN: cfg.PersistEveryNChunks,
	}

	sess, err := orchestrator.Send(context.Background(), conn, filePath, addr, orchCfg, log)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	acked, total := sess.Progress()
	log.Info().Str("state", string(sess.GetState())).Uint64("acked", acked).Uint64("total", total).Msg("transfer finished")
	return nil
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
