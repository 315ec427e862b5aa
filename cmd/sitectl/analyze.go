package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/qs3c/site_structure_server/internal/discovery"
	"github.com/qs3c/site_structure_server/internal/pkg/fetch"
	"github.com/qs3c/site_structure_server/internal/ranking"
	"github.com/qs3c/site_structure_server/internal/service"
)

func newAnalyzeCommand(opts *rootOptions) *cobra.Command {
	var (
		top     int
		mode    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze <domain>",
		Short: "Discover and rank one domain without storing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := service.ExtractDomain(args[0])
			if domain == "" {
				return fmt.Errorf("%q is not a usable domain", args[0])
			}

			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if mode == "" {
				mode = cfg.Ranking.Mode
			}

			client, err := fetch.NewClient(fetch.Options{
				UserAgent:         cfg.Discovery.UserAgent,
				Timeout:           cfg.Discovery.RequestTimeout,
				ProxyURL:          cfg.Discovery.ProxyURL,
				RequestsPerSecond: cfg.Discovery.RequestsPerSecond,
				Burst:             cfg.Discovery.Burst,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			orchestrator := discovery.NewOrchestrator(client,
				discovery.NewSitemapParser(client, cfg.Discovery.MaxSitemapFetches, log),
				cfg.Discovery.QuickScanMaxEntries, log)
			result, err := orchestrator.Discover(ctx, domain)
			if err != nil {
				return fmt.Errorf("discover %s: %w", domain, err)
			}

			ranked, err := ranking.NewRanker(ranking.ParseMode(mode), ranking.WithLogger(log)).Rank(ctx, domain, result.Pages)
			if err != nil {
				return fmt.Errorf("rank %s: %w", domain, err)
			}

			out := cmd.OutOrStdout()
			renderStrategies(out, result)
			renderRankedPages(out, ranked, top)
			return nil
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 25, "number of pages to print, 0 for all")
	cmd.Flags().StringVar(&mode, "mode", "", "ranking mode, full or fast (default ranking.mode)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall time limit")
	return cmd
}

func renderStrategies(w io.Writer, result *discovery.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	title := result.Domain
	if result.SitemapURL != "" {
		title += "  sitemap: " + result.SitemapURL
	}
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Strategy", "Pages", "Duration", "Error"})

	for _, s := range result.Strategies {
		errText := ""
		if s.Err != nil {
			errText = s.Err.Error()
		}
		t.AppendRow(table.Row{s.Strategy, s.Pages, s.Duration.Round(time.Millisecond), errText})
	}
	footer := fmt.Sprintf("%d pages", len(result.Pages))
	if result.UsedFallback {
		footer += " (fallback)"
	}
	t.AppendFooter(table.Row{"", footer, "", ""})
	t.Render()
}

func renderRankedPages(w io.Writer, pages []ranking.RankedPage, top int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Score", "Type", "BI", "Tier", "Source", "URL"})

	for i, p := range pages {
		if top > 0 && i >= top {
			break
		}
		t.AppendRow(table.Row{i + 1, p.Score, p.PageType, p.BIClassification, p.BusinessValueTier, p.Source, p.URL})
	}
	t.Render()
}
