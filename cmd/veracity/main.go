// Command veracity runs the document analysis service: an HTTP API in front
// of the multi-agent analysis pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"veracity/pkg/agent"
	"veracity/pkg/config"
	"veracity/pkg/httpapi"
	"veracity/pkg/logx"
	"veracity/pkg/mcp"
	"veracity/pkg/metrics"
	"veracity/pkg/orchestrator"
	"veracity/pkg/persistence"
	"veracity/pkg/version"
)

// apiTokenHashEnv names the environment variable holding the scrypt hash of
// the API token. Generate one with -hash-token.
const apiTokenHashEnv = "VERACITY_API_TOKEN_HASH"

const shutdownGrace = 10 * time.Second

func main() {
	var (
		agentsPath    = flag.String("agents", "config/agents.yaml", "Path to agent role definitions")
		toolsPath     = flag.String("tools", "config/tools.yaml", "Path to tool provider definitions")
		dataDir       = flag.String("datadir", ".", "Directory holding the analysis database")
		listenAddr    = flag.String("listen", ":8080", "HTTP listen address")
		prometheusURL = flag.String("prometheus-url", "", "Prometheus base URL for the usage endpoint (optional)")
		fanOut        = flag.Int("verification-fanout", orchestrator.DefaultVerificationFanOut, "Concurrent claim verifications per analysis")
		hashToken     = flag.Bool("hash-token", false, "Prompt for an API token and print its hash")
		debug         = flag.Bool("debug", false, "Enable debug logging for all components (same as DEBUG=1)")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *debug {
		logx.SetDebug(true, nil)
	}

	if *showVersion {
		fmt.Printf("veracity %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
		os.Exit(0)
	}

	if *hashToken {
		os.Exit(runHashToken())
	}

	os.Exit(run(*agentsPath, *toolsPath, *dataDir, *listenAddr, *prometheusURL, *fanOut))
}

// runHashToken prompts for a token with echo disabled and prints the scrypt
// hash to store in the environment.
func runHashToken() int {
	fmt.Fprint(os.Stderr, "API token: ")
	token, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read token: %v\n", err)
		return 1
	}
	if len(token) == 0 {
		fmt.Fprintln(os.Stderr, "Empty token")
		return 1
	}

	hash, err := config.HashAPIToken(string(token))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash token: %v\n", err)
		return 1
	}
	fmt.Printf("%s=%s\n", apiTokenHashEnv, hash)
	return 0
}

// run wires the service together and blocks until shutdown. Returning an
// exit code instead of calling os.Exit lets defers run.
func run(agentsPath, toolsPath, dataDir, listenAddr, prometheusURL string, fanOut int) int {
	logger := logx.NewLogger("veracity-main")

	cfg, err := config.Load(agentsPath, toolsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	logger.Info("loaded %d agent roles and %d tool providers", len(cfg.Agents), len(cfg.Tools))

	db, err := persistence.Open(filepath.Join(dataDir, "veracity.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database: %v", closeErr)
		}
	}()
	store := persistence.NewStore(db)

	tools := mcp.NewManager(cfg)
	defer func() {
		if closeErr := tools.Close(); closeErr != nil {
			logger.Error("error closing tool connections: %v", closeErr)
		}
	}()

	executor, err := agent.NewExecutor(cfg, tools)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create executor: %v\n", err)
		return 1
	}

	orch := orchestrator.New(cfg, store, executor,
		orchestrator.WithVerificationFanOut(fanOut),
		orchestrator.WithMetrics(orchestrator.NewMetrics()),
	)

	var usage httpapi.UsageService
	if prometheusURL != "" {
		queryService, qerr := metrics.NewQueryService(prometheusURL)
		if qerr != nil {
			fmt.Fprintf(os.Stderr, "Failed to create metrics query service: %v\n", qerr)
			return 1
		}
		usage = queryService
	}

	tokenHash, _ := config.GetSecret(apiTokenHashEnv)
	api := httpapi.NewServer(orch, store, usage, tokenHash)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
			return 1
		}
		return 0
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown: %v", err)
	}

	// Let in-flight analyses reach a persisted state before closing the store.
	logger.Info("waiting for in-flight analyses")
	orch.Wait()
	logger.Info("shutdown complete")
	return 0
}
