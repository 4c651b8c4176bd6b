package main

import (
	"context"
	"errors"
	"fmt"
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

	"github.com/kalambet/aury/internal/api"
	"github.com/kalambet/aury/internal/auth"
	"github.com/kalambet/aury/internal/config"
	"github.com/kalambet/aury/internal/generation"
	"github.com/kalambet/aury/internal/logger"
	"github.com/kalambet/aury/internal/persona"
	"github.com/kalambet/aury/internal/pipeline"
	"github.com/kalambet/aury/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the aury server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running aury server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aury server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "aury.pid")
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

// buildService wires the generation pipeline over store.
func buildService(cfg config.Config, store *storage.Store, log *logger.Logger) *pipeline.Service {
	gen := generation.NewClient(cfg.Generation.APIKey, cfg.Generation.BaseURL, cfg.Generation.Model, cfg.Generation.TimeoutDuration())
	log.Info("generation client ready", "model", gen.Model(), "timeout", cfg.Generation.TimeoutDuration())
	registry := persona.NewRegistry(store, log)
	selector := persona.NewRandomSelector(cfg.FanOut.MinPersonas, cfg.FanOut.MaxPersonas)
	fanout := pipeline.NewFanOut(registry, gen, store, selector, pipeline.FanOutOptions{
		Personas:    cfg.FanOut.PersonaKeys(),
		Parallelism: cfg.FanOut.Parallelism,
	}, log)
	return pipeline.NewService(pipeline.NewPrimaryStage(gen, store, log), fanout, log)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "aury version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("aury is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("aury is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing storage", "error", err)
		}
	}()

	svc := buildService(cfg, store, log)
	resolver := auth.NewResolver(cfg.Auth.JWTSecret, store, cfg.Auth.CacheTTL())

	handler := api.NewHandler(api.Deps{
		Auth:      resolver,
		Generator: svc,
		Feed:      store,
		Log:       log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if handle := cfg.MCP.ProfileHandle; handle != "" {
		owner, err := store.GetProfileByHandle(ctx, handle)
		if err != nil {
			return fmt.Errorf("resolving MCP profile %q: %w", handle, err)
		}
		mcpSrv := api.NewMCPServer(api.MCPDeps{Generator: svc, Feed: store, Owner: owner}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("MCP stdio server error", "error", err)
			}
		}()
		log.Info("MCP server started (stdio transport)", "profile", handle)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("aury listening", "addr", addr)
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

	// In-flight fan-outs finish within the generation timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Generation.TimeoutDuration()+5*time.Second)
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
		printError("aury is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop aury (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to aury (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(serverURL(cfg) + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s:%d", cfg.Server.Host, cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Generation.Model)
	printStatus("Endpoint", "%s", cfg.Generation.BaseURL)
	printStatus("Personas", "%s (%d-%d per question)",
		strings.Join(cfg.FanOut.PersonaKeys(), ", "), cfg.FanOut.MinPersonas, cfg.FanOut.MaxPersonas)
	if cfg.MCP.ProfileHandle != "" {
		printStatus("MCP profile", "%s", cfg.MCP.ProfileHandle)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
