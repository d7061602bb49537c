package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"goflare.io/trending"
	"goflare.io/trending/internal/logger"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/scheduler"
)

type fetchOptions struct {
	country  string
	category string
	keyword  string
	channel  string
	date     string
	limit    int
	force    bool
	asJSON   bool
}

func (f *fetchOptions) request(defaultRegion string) (trending.Request, error) {
	req := trending.Request{
		Region:       strings.ToUpper(f.country),
		Category:     f.category,
		Keyword:      f.keyword,
		CollectionID: f.channel,
		Limit:        f.limit,
	}
	if req.Region == "" {
		req.Region = defaultRegion
	}
	d, err := models.ParseDate(f.date)
	if err != nil {
		return req, err
	}
	req.Date = d
	return req, nil
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	f := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch trending items once and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, cfg, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync(cfg.Logger)
			defer tr.Close()

			req, err := f.request(cfg.Region)
			if err != nil {
				return err
			}

			var res trending.Result
			if f.force {
				res, err = tr.Refresh(cmd.Context(), req)
			} else {
				res, err = tr.Resolve(cmd.Context(), req)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if f.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Items)
			}

			fmt.Fprintf(out, "%d item(s), %s, fetched %s\n", len(res.Items), res.Outcome, res.FetchedAt.Format("2006-01-02 15:04:05"))
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tVIEWS\tCHANNEL\tTITLE")
			for i, it := range res.Items {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", i+1, it.Views, it.CollectionTitle, it.Title)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&f.country, "country", "", "2-letter region code (default from config)")
	cmd.Flags().StringVar(&f.category, "category", "", "category name or id (e.g. music, 10)")
	cmd.Flags().StringVar(&f.keyword, "keyword", "", "search keyword")
	cmd.Flags().StringVar(&f.channel, "channel", "", "channel id")
	cmd.Flags().StringVar(&f.date, "date", "", "published date filter (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.limit, "limit", models.DefaultLimit, "maximum number of items (1-50)")
	cmd.Flags().BoolVar(&f.force, "force", false, "skip the cache and refresh from upstream")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print items as JSON")
	return cmd
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh every default category once, like the scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, cfg, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync(cfg.Logger)
			defer tr.Close()

			sched, err := scheduler.New(tr, scheduler.Config{
				Spec:       cfg.SchedulerConfig.Spec,
				Region:     cfg.Region,
				Categories: cfg.DefaultCategories,
				Limit:      cfg.DefaultLimit,
			}, cfg.Logger)
			if err != nil {
				return err
			}

			report := sched.RunOnce(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "refreshed: %s\n", strings.Join(report.Refreshed, ", "))
			if len(report.Stale) > 0 {
				fmt.Fprintf(out, "stale: %s\n", strings.Join(report.Stale, ", "))
			}
			if len(report.Failed) == 0 {
				return nil
			}
			failed := make([]string, 0, len(report.Failed))
			for c := range report.Failed {
				failed = append(failed, c)
			}
			sort.Strings(failed)
			fmt.Fprintf(out, "failed: %s\n", strings.Join(failed, ", "))
			total := len(report.Refreshed) + len(report.Stale) + len(failed)
			return fmt.Errorf("%d of %d categories failed", len(failed), total)
		},
	}
}
