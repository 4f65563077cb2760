package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"expenses/internal/backend"
	"expenses/internal/cli"
	"expenses/internal/config"
	"expenses/internal/core"
	"expenses/internal/log"
	"expenses/internal/services"
)

const (
	flagAmount         = "amount"
	flagCategory       = "category"
	flagDescription    = "description"
	flagDate           = "date"
	flagIdempotencyKey = "idempotency-key"
	flagSort           = "sort"
	flagRetention      = "retention"
)

type runtime struct {
	cfg    *config.Config
	logger *log.Logger
	out    io.Writer
}

func newRootCommand(out io.Writer) *cobra.Command {
	rt := &runtime{out: out}
	cmd := &cobra.Command{
		Use:           "expensectl",
		Short:         "Inspect and maintain the expense store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			rt.cfg = cfg
			// stdout carries command output; logs go to stderr.
			rt.logger = log.New(log.Config{
				Level:     log.ParseLevel(cfg.LogLevel),
				Format:    cfg.LogFormat,
				Component: log.ComponentCLI,
				Output:    os.Stderr,
			})
			return nil
		},
	}

	cmd.AddCommand(
		newCreateCommand(rt),
		newListCommand(rt),
		newGetCommand(rt),
		newSummaryCommand(rt),
		newSweepCommand(rt),
		newMirrorCommand(rt),
	)
	return cmd
}

// withService opens the documents for one command and releases them after.
func (rt *runtime) withService(ctx context.Context, fn func(*services.ExpenseService) error) error {
	backendConfig, err := backend.FromAppConfig(rt.cfg)
	if err != nil {
		return err
	}
	// The CLI never publishes; the API process owns the event stream.
	backendConfig.AMQPURL = ""

	api, err := backend.NewFactory(rt.logger).CreateAPI(ctx, backendConfig)
	if err != nil {
		return err
	}
	defer api.Cleanup()
	return fn(api.Service)
}

func (rt *runtime) print(v any) error {
	enc := json.NewEncoder(rt.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCreateCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record an expense",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			amountArg, _ := flags.GetString(flagAmount)
			category, _ := flags.GetString(flagCategory)
			description, _ := flags.GetString(flagDescription)
			dateArg, _ := flags.GetString(flagDate)
			key, _ := flags.GetString(flagIdempotencyKey)

			amount, err := core.ParseAmount(amountArg)
			if err != nil {
				return fmt.Errorf("amount %q: %w", amountArg, err)
			}
			if dateArg == "" {
				dateArg = time.Now().UTC().Format(core.DateLayout)
			}
			date, err := core.NormalizeDate(dateArg)
			if err != nil {
				return fmt.Errorf("date %q: %w", dateArg, err)
			}
			n := core.NewExpense{Amount: amount, Category: category, Description: description, Date: date}
			if err := n.Validate(); err != nil {
				return err
			}

			return rt.withService(cmd.Context(), func(svc *services.ExpenseService) error {
				res, err := svc.CreateIdempotent(cmd.Context(), key, n)
				if err != nil {
					return err
				}
				return rt.print(res)
			})
		},
	}
	cmd.Flags().String(flagAmount, "", "amount in major units, e.g. 250.50")
	cmd.Flags().String(flagCategory, "", "expense category")
	cmd.Flags().String(flagDescription, "", "expense description")
	cmd.Flags().String(flagDate, "", "expense date (YYYY-MM-DD or RFC 3339), defaults to today")
	cmd.Flags().String(flagIdempotencyKey, "", "replay-safe key; reusing it returns the first expense")
	_ = cmd.MarkFlagRequired(flagAmount)
	_ = cmd.MarkFlagRequired(flagCategory)
	_ = cmd.MarkFlagRequired(flagDescription)
	return cmd
}

func newListCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List expenses with their total",
		RunE: func(cmd *cobra.Command, args []string) error {
			category, _ := cmd.Flags().GetString(flagCategory)
			sort, _ := cmd.Flags().GetString(flagSort)
			opts := core.ListOptions{Category: category, Sort: core.ParseSortOrder(sort)}

			return rt.withService(cmd.Context(), func(svc *services.ExpenseService) error {
				list, err := svc.ListRecords(cmd.Context(), opts)
				if err != nil {
					return err
				}
				return rt.print(list)
			})
		},
	}
	cmd.Flags().String(flagCategory, "", "only list this category")
	cmd.Flags().String(flagSort, "", "date_desc for newest date first, default newest created first")
	return cmd
}

func newGetCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one expense",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withService(cmd.Context(), func(svc *services.ExpenseService) error {
				view, err := svc.GetRecord(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return rt.print(view)
			})
		},
	}
}

func newSummaryCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Per-category totals straight from the record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withService(cmd.Context(), func(svc *services.ExpenseService) error {
				list, err := svc.ListRecords(cmd.Context(), core.ListOptions{})
				if err != nil {
					return err
				}
				return rt.print(map[string]any{
					"categories": core.Summarize(list.Expenses),
					"total":      list.Total,
					"count":      list.Count,
				})
			})
		},
	}
}

func newSweepCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evict expired idempotency keys now",
		RunE: func(cmd *cobra.Command, args []string) error {
			retention, _ := cmd.Flags().GetDuration(flagRetention)
			if retention <= 0 {
				retention = rt.cfg.IdempotencyRetention
			}

			return rt.withService(cmd.Context(), func(svc *services.ExpenseService) error {
				removed, err := svc.RunEvictionSweep(cmd.Context(), retention)
				if err != nil {
					return err
				}
				return rt.print(map[string]any{
					"removed":   removed,
					"retention": retention.String(),
				})
			})
		},
	}
	cmd.Flags().Duration(flagRetention, 0, "override IDEMPOTENCY_RETENTION")
	return cmd
}

func newMirrorCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Query the SQLite reporting mirror",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "totals",
		Short: "Per-category totals of mirrored expenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := cli.InitSQLite(rt.logger, rt.cfg.SQLiteDBPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			totals, err := repo.CategoryTotals(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := repo.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			return rt.print(map[string]any{
				"categories":    totals,
				"pending_sheet": pending,
			})
		},
	})
	return cmd
}
