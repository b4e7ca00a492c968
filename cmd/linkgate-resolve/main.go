package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/linkgate/config"
	"github.com/use-agent/linkgate/models"
	"github.com/use-agent/linkgate/resolver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. Environment configuration supplies the flag
// defaults, flags override it.
func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		concurrency int
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "linkgate-resolve [urls...]",
		Short: "Resolve ad-gate and shortener links to their final destination",
		Long: `Resolves each URL in a fresh browser session and prints one JSON
object per URL, in argument order. Exits non-zero if any URL failed.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: parseLevel(logLevel),
			})))

			rs, err := resolver.NewFromConfig(cfg.Browser, cfg.Resolver)
			if err != nil {
				return err
			}
			return run(cmd.Context(), rs, args, concurrency, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Browser.Backend, "backend", cfg.Browser.Backend, "session backend: rod, chromedp or http")
	flags.DurationVar(&cfg.Resolver.NavigationTimeout, "timeout", cfg.Resolver.NavigationTimeout, "navigation timeout per URL")
	flags.StringVar(&cfg.Resolver.HeuristicsFile, "heuristics", cfg.Resolver.HeuristicsFile, "YAML heuristics file (default: built-in set)")
	flags.BoolVar(&cfg.Browser.Headless, "headless", cfg.Browser.Headless, "run the browser headless")
	flags.StringVar(&cfg.Browser.Proxy, "proxy", cfg.Browser.Proxy, "proxy URL for every session")
	flags.IntVarP(&concurrency, "concurrency", "c", 1, "number of URLs resolved at once")
	flags.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	return cmd
}

// run resolves urls with at most concurrency sessions at once and writes
// the results in input order.
func run(ctx context.Context, rs *resolver.Resolver, urls []string, concurrency int, out io.Writer) error {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]*models.ResolveResponse, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, raw := range urls {
		g.Go(func() error {
			results[i] = resolveOne(gctx, rs, raw)
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(out)
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d links failed", failed, len(urls))
	}
	return nil
}

func resolveOne(ctx context.Context, rs *resolver.Resolver, raw string) *models.ResolveResponse {
	start := time.Now()
	resp := &models.ResolveResponse{OriginalURL: raw}

	normalized, err := models.NormalizeURL(raw)
	if err == nil {
		resp.OriginalURL = normalized
		var result *resolver.Result
		result, err = rs.Resolve(ctx, resolver.Request{OriginalURL: normalized})
		if err == nil {
			resp.Success = true
			resp.FinalURL = result.FinalURL
			resp.Metadata = result.Metadata
			resp.Warnings = result.Warnings
		}
	}
	if err != nil {
		resp.Error = models.AsResolveError(err).ToDetail()
	}
	resp.Timing = models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}
	return resp
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return level
}
