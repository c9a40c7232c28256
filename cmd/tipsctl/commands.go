package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/community-tips/internal/ingest"
	"github.com/example/community-tips/internal/storage"
	"github.com/example/community-tips/internal/tips"
	"github.com/example/community-tips/internal/types"
)

type rootOptions struct {
	storePath   string
	postgresURL string
	ttl         time.Duration
	threshold   int
}

func newRootCmd(logger zerolog.Logger) *cobra.Command {
	_ = godotenv.Load()

	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tipsctl",
		Short:         "Inspect and maintain the local tip store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.storePath, "store", envOr("LOCAL_STORE_PATH", "./data/tips"), "local store directory")
	root.PersistentFlags().StringVar(&opts.postgresURL, "postgres", os.Getenv("POSTGRES_URL"), "moderation journal connection string")
	root.PersistentFlags().DurationVar(&opts.ttl, "ttl", tips.DefaultTTL, "tip lifetime")
	root.PersistentFlags().IntVar(&opts.threshold, "threshold", tips.DefaultReportThreshold, "reports before a tip is removed")

	root.AddCommand(
		newListCmd(opts, logger),
		newPruneCmd(opts, logger),
		newHistoryCmd(opts),
		newImportCmd(opts, logger),
	)
	return root
}

func newListCmd(opts *rootOptions, logger zerolog.Logger) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print live tips, newest first, without modifying the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, logger, func(store *storage.LocalStore) error {
				list := visibleTips(store.Load(cmd.Context()), time.Now(), opts.ttl, opts.threshold)
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(list)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tREPORTS\tCOMMENTS\tTEXT")
				for _, t := range list {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", t.ID, types.Stamp(t.CreatedAt), t.Reports, len(t.Comments), truncate(t.Text, 60))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newPruneCmd(opts *rootOptions, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired and over-reported tips from the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, logger, func(store *storage.LocalStore) error {
				before := len(store.Load(cmd.Context()))
				engine := tips.NewEngine(tips.NewLocalBackend(store), opts.tipsConfig(), logger)
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()
				// Start applies the threshold on load and runs one expiry pass.
				if err := engine.Start(ctx); err != nil {
					return err
				}
				after := engine.Tips()
				if err := store.Save(cmd.Context(), after); err != nil {
					return fmt.Errorf("save pruned tips: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d of %d tips\n", before-len(after), before)
				return nil
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <tip-id>",
		Short: "Show the moderation journal for one tip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.postgresURL == "" {
				return fmt.Errorf("history needs --postgres or POSTGRES_URL")
			}
			pool, err := pgxpool.New(cmd.Context(), opts.postgresURL)
			if err != nil {
				return fmt.Errorf("connect journal: %w", err)
			}
			defer pool.Close()

			entries, err := storage.NewJournal(pool).History(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no events for %s\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LSN\tAT\tKIND\tREPORTS")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", e.LSN, types.Stamp(e.CreatedAt), e.Kind, e.Reports)
			}
			return tw.Flush()
		},
	}
}

func newImportCmd(opts *rootOptions, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Merge exported tips into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var rows []map[string]any
			if err := json.Unmarshal(data, &rows); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			incoming, skipped := ingest.NormalizeTipRows(rows)

			return withStore(opts, logger, func(store *storage.LocalStore) error {
				existing := store.Load(cmd.Context())
				seen := make(map[string]struct{}, len(existing))
				for _, t := range existing {
					seen[t.ID] = struct{}{}
				}
				added := 0
				for _, t := range incoming {
					if _, dup := seen[t.ID]; dup {
						skipped++
						continue
					}
					seen[t.ID] = struct{}{}
					existing = append(existing, t)
					added++
				}
				if err := store.Save(cmd.Context(), existing); err != nil {
					return fmt.Errorf("save imported tips: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d tips, skipped %d\n", added, skipped)
				return nil
			})
		},
	}
}

// visibleTips is what the engine would serve from list without touching
// the store: live, under the report threshold, newest first.
func visibleTips(list []types.Tip, now time.Time, ttl time.Duration, threshold int) []types.Tip {
	out := make([]types.Tip, 0, len(list))
	for _, t := range list {
		if t.ExpiredAt(now, ttl) || t.Reports >= threshold {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (o *rootOptions) tipsConfig() tips.Config {
	cfg := tips.DefaultConfig()
	cfg.TTL = o.ttl
	cfg.ReportThreshold = o.threshold
	return cfg
}

func withStore(opts *rootOptions, logger zerolog.Logger, fn func(*storage.LocalStore) error) error {
	db, err := storage.OpenBadger(storage.DefaultBadgerConfig(opts.storePath))
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(storage.NewLocalStore(db, logger))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
