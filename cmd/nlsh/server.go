package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/evanhsu/nlsh/internal/api"
	"github.com/evanhsu/nlsh/internal/config"
	"github.com/evanhsu/nlsh/internal/embedworker"
	"github.com/evanhsu/nlsh/internal/engine"
	"github.com/evanhsu/nlsh/internal/generate"
	"github.com/evanhsu/nlsh/internal/hostinfo"
	"github.com/evanhsu/nlsh/internal/intent"
	"github.com/evanhsu/nlsh/internal/interpreter"
	"github.com/evanhsu/nlsh/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nlsh daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running nlsh daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and model backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio (for agent hosts)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "nlsh.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "nlsh version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	token, err := api.LoadOrCreateToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse to start twice. Health responding means a daemon already owns
	// the port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("nlsh is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("nlsh is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Detect the host once; every generated fallback command uses this.
	host := hostinfo.Detect()
	slog.Info("host detected",
		"os_family", host.OSFamily,
		"distro", host.DistroID,
		"package_manager", host.PackageManager,
		"confidence", host.Confidence,
	)

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	backendUp, err := engine.EnsureReady(ctx, eng, cfg.Ollama.CommandModel, cfg.Ollama.EmbedModel, os.Stderr)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	gen := generate.New(eng, generate.Options{
		Model:         cfg.Ollama.CommandModel,
		Host:          host,
		Timeout:       cfg.ModelTimeoutDuration(),
		MinModelScore: cfg.Interpreter.MinModelScore,
		MaxCandidates: cfg.Interpreter.MaxCandidates,
	})

	embedEnabled := cfg.Embedding.Enabled && cfg.Ollama.EmbedModel != ""
	interp := interpreter.New(intent.NewRuleClassifier(), gen, store, embedEnabled)

	if embedEnabled {
		embedder := embedworker.NewEngineEmbedder(eng, cfg.Ollama.EmbedModel)
		worker := embedworker.NewWorker(store, embedder, cfg.EmbedPollDuration())
		go worker.Run(ctx)

		if backendUp {
			go func() {
				if _, err := worker.Backfill(ctx, 100); err != nil {
					slog.Warn("embedding backfill incomplete", "error", err)
				}
			}()
		}
	}

	handler := api.NewAppHandler(api.AppDeps{
		Interpreter: interp,
		Store:       store,
		Host:        host,
		Token:       token,
		Engine:      eng,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Interpreter: interp,
			Store:       store,
			Host:        host,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "nlsh listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("nlsh is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop nlsh (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to nlsh (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		var health map[string]string
		if json.NewDecoder(resp.Body).Decode(&health) == nil && health["status"] == "ok" {
			running = true
			printStatus("Daemon", "running on port %d", cfg.Server.Port)
			printStatus("Model backend", "%s", health["model_backend"])
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
		resp.Body.Close()
	}

	printStatus("Command model", "%s", cfg.Ollama.CommandModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if running {
		if c, err := newAPIClient(); err == nil {
			if hostResp, err := c.get(context.Background(), "/hostinfo"); err == nil {
				var host hostinfo.Profile
				if decodeJSON(hostResp, &host) == nil {
					printStatus("Host", "%s/%s (%s)", host.OSFamily, host.DistroID, host.PackageManager)
				}
			}
			if listResp, err := c.get(context.Background(), "/interactions?limit=500"); err == nil {
				var interactions []json.RawMessage
				if decodeJSON(listResp, &interactions) == nil {
					printStatus("Interactions", "%s", countLabel(len(interactions), 500))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
