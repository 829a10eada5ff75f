package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Extracta/internal/app"
	"github.com/markdave123-py/Extracta/internal/config"
	"github.com/markdave123-py/Extracta/internal/services"
)

var (
	engineKey string
	outPath   string
	workers   int
	fallback  []string
	dumpDir   string
	isDebug   bool
)

// errFailures makes the process exit non-zero after output has been written.
var errFailures = errors.New("some documents could not be extracted")

var rootCmd = &cobra.Command{
	Use:   "extract [path|url|s3://bucket/prefix]...",
	Short: "Extract document elements as NDJSON",
	Long: `extract resolves each argument to documents (a file, every supported file
under a directory, an http(s) URL, or every supported object under an s3://
prefix) and writes one JSON element per line, tagged with its source.`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runExtract,
}

func init() {
	rootCmd.Flags().StringVarP(&engineKey, "engine", "e", "", "engine key (default: detect per document)")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file, - for stdout")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 1, "documents extracted concurrently")
	rootCmd.Flags().StringSliceVar(&fallback, "fallback", nil, "fallback engine keys (default from FALLBACK_ENGINES)")
	rootCmd.Flags().StringVar(&dumpDir, "dump-dir", "", "write an error report here (local dir or s3://bucket/prefix)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if isDebug {
		cfg.LogLevel = "debug"
	}
	logger := app.NewLogger(cfg, os.Stderr)
	app.SetupLogging(logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := app.NewCore(ctx, cfg, logger, fallback)
	if err != nil {
		return err
	}
	defer c.Close()

	var out io.Writer = cmd.OutOrStdout()
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	if dumpDir == "" {
		dumpDir = cfg.DiagnosticDumpDir
	}
	defer c.DumpDiagnostics(context.WithoutCancel(ctx), dumpDir)

	failed, err := extractAll(ctx, c.Extraction, args, engineKey, workers, out)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d errors", errFailures, failed)
	}
	return nil
}

// extractAll writes every document named by args to out. With more than one
// worker, documents run concurrently but each document's lines are written
// together and in order. It returns the number of error lines written.
func extractAll(ctx context.Context, svc *services.ExtractionService, args []string, engine string, n int, out io.Writer) (int, error) {
	rw := services.NewResultWriter(out)
	if n <= 1 {
		for _, arg := range args {
			if err := rw.Drain(svc.ExtractSource(ctx, arg, engine)); err != nil {
				return rw.Errors, err
			}
		}
		return rw.Errors, nil
	}

	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)

	flush := func(buf *bytes.Buffer, errCount int) error {
		mu.Lock()
		defer mu.Unlock()
		failed += errCount
		_, err := out.Write(buf.Bytes())
		return err
	}

	for _, arg := range args {
		for src, err := range svc.Sources(gctx, arg) {
			if err != nil {
				var buf bytes.Buffer
				_ = services.NewResultWriter(&buf).Error(err)
				if werr := flush(&buf, 1); werr != nil {
					_ = g.Wait()
					return failed, werr
				}
				continue
			}
			g.Go(func() error {
				var buf bytes.Buffer
				w := services.NewResultWriter(&buf)
				if err := w.Drain(svc.Stream(gctx, services.Request{Source: src, Engine: engine})); err != nil {
					return err
				}
				return flush(&buf, w.Errors)
			})
		}
	}
	err := g.Wait()
	return failed, err
}
