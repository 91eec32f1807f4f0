// Command chronokv-server runs a single RSM-replicated storage engine
// process: either a shard (LockStore or OCCStore backend, chosen by -m)
// or the timestamp authority, determined by whether -c names a
// ".tss.config" file (spec.md §6 "CLI (server)"). The cobra/flag
// structure here follows cuemby-warren's cmd/warren/main.go.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/chronokv/chronokv/internal/config"
	"github.com/chronokv/chronokv/internal/log"
	"github.com/chronokv/chronokv/internal/metrics"
	"github.com/chronokv/chronokv/internal/replica"
	"github.com/chronokv/chronokv/internal/rsm"
	"github.com/chronokv/chronokv/internal/timestamp"
	"github.com/chronokv/chronokv/internal/txnstore"
	"github.com/chronokv/chronokv/internal/wire"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	replicaIndex int
	mode         string
	logLevel     string
	logJSON      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chronokv-server",
	Short: "Run one replica of a chronokv shard or timestamp authority",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "replica-set config file path (required)")
	rootCmd.Flags().IntVarP(&replicaIndex, "index", "i", -1, "this replica's index in the config (required)")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "", "storage mode: vr-l, spec-l, vr-occ, spec-occ, fast-occ (required)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&logJSON, "log-json", false, "output logs in JSON format")
	_ = rootCmd.MarkFlagRequired("config")
	_ = rootCmd.MarkFlagRequired("index")
}

func run(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	rs, err := config.Load(configPath)
	if err != nil {
		return err
	}
	selfAddr, err := rs.SelfAddress()
	if err != nil {
		return err
	}

	if config.IsTimestampAuthority(configPath) {
		return serveTimestampAuthority(selfAddr, rs.Metrics)
	}

	if mode == "" {
		return fmt.Errorf("chronokv-server: -m is required when running as a shard")
	}
	return serveShard(selfAddr, rs.Metrics, replicaIndex, mode)
}

func serveTimestampAuthority(addr, metricsAddr string) error {
	authority := timestamp.NewAuthority()
	executor := rsm.NewExecutor(authority)
	startMetricsServer(metricsAddr)

	l := log.WithComponent("timestamp-authority")
	l.Info().Str("addr", addr).Msg("listening")
	return serveConnections(addr, executor, l)
}

func serveShard(addr, metricsAddr string, index int, mode string) error {
	var store txnstore.Store
	switch mode {
	case "vr-l", "spec-l":
		store = txnstore.NewLockStore()
	case "vr-occ", "spec-occ", "fast-occ":
		store = txnstore.NewOCCStore()
	default:
		return fmt.Errorf("chronokv-server: unknown mode %q", mode)
	}

	shard := replica.New(index, store)
	executor := rsm.NewExecutor(shard)
	startMetricsServer(metricsAddr)

	l := log.WithShard(index)
	l.Info().Str("addr", addr).Str("mode", mode).Msg("listening")
	return serveConnections(addr, executor, l)
}

func startMetricsServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			l := log.WithComponent("metrics")
			l.Error().Err(err).Msg("metrics server exited")
		}
	}()
}

// serveConnections accepts client connections and dispatches each framed
// request straight to the RSM executor, single-threaded per spec.md §5
// ("the storage engine is reentered only from this thread"): every
// connection's requests are handled inline on its own goroutine, but
// executor.Exec serializes them with its own mutex, so op-number
// assignment across connections stays totally ordered regardless of
// which connection they arrived on.
func serveConnections(addr string, executor *rsm.Executor, l zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("chronokv-server: listen on %s: %w", addr, err)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.Error().Err(err).Msg("accept failed")
			continue
		}
		go handleConn(conn, executor, l)
	}
}

func handleConn(conn net.Conn, executor *rsm.Executor, l zerolog.Logger) {
	defer conn.Close()

	for {
		var cr wire.ClientRequest
		if err := wire.ReadMessage(conn, &cr); err != nil {
			return
		}

		op, err := wire.Marshal(cr.Req)
		if err != nil {
			l.Error().Err(err).Msg("failed to re-encode request for op log")
			return
		}

		opNum, replyBytes := executor.Exec(op)

		var reply wire.Reply
		if err := wire.Unmarshal(replyBytes, &reply); err != nil {
			l.Error().Err(err).Msg("failed to decode reply")
			return
		}

		out := wire.ClientReply{View: 0, OpNum: opNum, Reply: reply}
		if err := wire.WriteMessage(conn, out); err != nil {
			return
		}
	}
}
