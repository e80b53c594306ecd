package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	var configPath string
	var onlyBackend string

	rootCmd := &cobra.Command{
		Use:   "mcp-db-gateway",
		Short: "Read-only query safety gateway exposed as an MCP stdio server",
		Long: `mcp-db-gateway accepts SQL text or MongoDB shell/document commands and
guarantees that no mutating command reaches a database driver. Backends
are configured via a YAML file or MCP_* environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, onlyBackend)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.Flags().StringVarP(&onlyBackend, "backend", "b", "", "serve only this backend: relational or document")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, onlyBackend string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	switch onlyBackend {
	case "":
	case string(BackendRelational):
		cfg.Document = nil
		if cfg.Relational == nil {
			return fmt.Errorf("--backend relational requested but no relational backend is configured")
		}
	case string(BackendDocument):
		cfg.Relational = nil
		if cfg.Document == nil {
			return fmt.Errorf("--backend document requested but no document backend is configured")
		}
	default:
		return fmt.Errorf("invalid --backend %q: expected relational or document", onlyBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logInfo("received shutdown signal")
		cancel()
	}()

	server, err := NewGatewayServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer server.Close()

	logInfo("gateway started (read-only mode)")

	if err := server.Run(); err != nil {
		if err == context.Canceled {
			logInfo("gateway shut down gracefully")
			return nil
		}
		return err
	}
	return nil
}
