package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/yaml.v3"

	"agora/internal/app"
	"agora/internal/config"
	"agora/internal/database"
	pkgdatabase "agora/pkg/database"
)

const programName = "agora"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type options struct {
	configFile string
	debug      bool
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           programName,
		Short:         "Moderated debate session server",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context(), opts, out)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "D", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.configFile, "config", os.Getenv("AGORA_CONFIG_FILE"), "path to YAML config file")

	root.AddCommand(serveCommand(opts, out))
	root.AddCommand(migrateCommand(opts, out))
	root.AddCommand(configCommand(opts, out))
	root.AddCommand(versionCommand(out))
	return root
}

func newLogger(out io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: debug,
		Level:     level,
	}))
}

func serveCommand(opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context(), opts, out)
		},
	}
}

// serveRun blocks until SIGINT/SIGTERM, then shuts down within the
// configured timeout
func serveRun(ctx context.Context, opts *options, out io.Writer) error {
	logger := newLogger(out, opts.debug)
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		logger.Info(fmt.Sprintf(format, v...))
	})); err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}
	logger.Info("starting", "version", version)

	cfg, err := config.LoadConfigWithPrecedence(opts.configFile)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	// Fresh context so shutdown is not cut short by the cancelled one
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func migrateCommand(opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(opts.configFile)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfg.Database.DatabasePath), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
			manager, err := database.NewManager(&cfg.Database, database.WithLogger(newLogger(io.Discard, false)))
			if err != nil {
				return err
			}
			defer func() { _ = manager.Close() }()

			migrations := pkgdatabase.NewMigrationManager(manager.GetDB(), cfg.Database.MigrationsPath)
			if err := migrations.ApplyMigrations(); err != nil {
				return err
			}
			if err := pkgdatabase.NewSchemaValidator(manager.GetDB()).Validate(); err != nil {
				return err
			}
			versions, err := migrations.AppliedVersions()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "database %s at migration %s\n", cfg.Database.DatabasePath, versions[len(versions)-1])
			return err
		},
	}
}

func configCommand(opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(opts.configFile)
			if err != nil {
				return err
			}
			cfg.Archive.RedisPassword = redact(cfg.Archive.RedisPassword)
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func versionCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "%s %s\n", programName, version)
		},
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
