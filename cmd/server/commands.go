package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/repositories"
)

// newRootCmd builds the command tree. Running without a subcommand serves.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "llmstxt",
		Short: "Serve llms.txt indexes and Markdown variants of site content",
		Long: `llmstxt answers /llms.txt and /{scope}/llms.txt with a plain text index
for language models and serves Markdown variants of published resources
at {path}.md or when the client asks for text/markdown.

Example usage:
  llmstxt serve --config config.yaml
  llmstxt export --out public/
  llmstxt import --from content/`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $APP_CONFIG_PATH or ./config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newExportCmd(&configPath),
		newImportCmd(&configPath),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app := NewApp(configPath)
	errc, err := app.Start()
	if err != nil {
		_ = app.Shutdown()
		return err
	}

	// Ожидание сигналов завершения от ОС (Ctrl+C или docker stop)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	return errors.Join(serveErr, app.Shutdown())
}

func newExportCmd(configPath *string) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every index and Markdown variant to a directory",
		Long: `export renders the same documents the server would answer with and writes
them below --out, so they can be served by any static file host.
Targets that would redirect or pass through are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApp(*configPath)
			defer app.Shutdown()

			if err := app.InitializeCore(); err != nil {
				return err
			}

			manifest, err := app.usecase.Export(cmd.Context(), outDir)
			if manifest != nil {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PATH\tBYTES\tTOKENS")
				for _, e := range manifest.Entries {
					fmt.Fprintf(w, "%s\t%d\t%d\n", e.Path, e.Bytes, e.Tokens)
				}
				w.Flush()
				for _, p := range manifest.Skipped {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s\n", p)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&outDir, "out", "dist", "output directory")
	return cmd
}

func newImportCmd(configPath *string) *cobra.Command {
	var fromDir, scopedDir string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a Markdown content tree into the configured database",
		Long: `import reads documents from --from ({type}/{slug}.md with frontmatter) and
scoped documents from --scoped, then upserts them into the store named by
storage.driver. Only reindexer, sqlite and postgres accept writes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scopedDir == "" {
				scopedDir = filepath.Join(fromDir, "llms")
			}
			if _, err := os.Stat(fromDir); err != nil {
				return fmt.Errorf("content directory: %w", err)
			}

			app := NewApp(*configPath)
			defer app.Shutdown()

			if err := app.InitializeCore(); err != nil {
				return err
			}
			if app.storage.store == nil {
				return fmt.Errorf("storage driver %q does not accept imports", app.config.Storage.Driver)
			}

			source, err := repositories.NewFileRepository(repositories.FileOptions{
				ContentDir: fromDir,
				ScopedDir:  scopedDir,
				BaseURL:    app.config.Site.HomeURL,
			}, app.logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			docs, scoped := source.Snapshot()
			for _, d := range docs {
				if err := app.storage.store.SaveDocument(ctx, d); err != nil {
					return err
				}
			}
			for _, s := range scoped {
				if err := app.storage.store.SaveScopedDocument(ctx, s); err != nil {
					return err
				}
			}

			app.logger.Info("импорт завершен",
				zap.String("from", fromDir),
				zap.Int("документов", len(docs)),
				zap.Int("областей", len(scoped)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d documents and %d scoped documents\n", len(docs), len(scoped))
			return nil
		},
	}

	cmd.Flags().StringVar(&fromDir, "from", "content", "content directory")
	cmd.Flags().StringVar(&scopedDir, "scoped", "", "scoped documents directory (default is <from>/llms)")
	return cmd
}
