package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/scheduler"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// newRootCmd builds the command tree over cfg. Persistent flags override
// the environment.
func newRootCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "subvault",
		Short: "Subvault - prepaid recurring billing vault",
		Long: `Subvault holds subscriber prepayments and charges them to merchants
on a fixed interval.

Use it to initialize a vault, inspect subscriptions and events, run
scheduled charges and toggle the emergency stop.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Debug("command start", "command", cmd.CommandPath())
			return cfg.Validate()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Store, "store", cfg.Store, "store backend (memory, sqlite, postgres, mongo)")
	flags.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path")
	flags.StringVar(&cfg.Operator, "operator", cfg.Operator, "acting identity for administrative commands")

	root.AddCommand(
		newMigrateCmd(cfg, logger),
		newInitCmd(cfg, logger),
		newStatusCmd(cfg, logger),
		newSubscriptionCmd(cfg, logger),
		newEventsCmd(cfg, logger),
		newChargeCmd(cfg, logger),
		newChargeDueCmd(cfg, logger),
		newEmergencyStopCmd(cfg, logger),
		newSetMinTopupCmd(cfg, logger),
		newRunCmd(cfg, logger),
	)
	return root
}

// withApp opens and starts an App for the duration of fn.
func withApp(cmd *cobra.Command, cfg *Config, logger *slog.Logger, fn func(ctx context.Context, a *App) error, opts ...subvault.Option) error {
	ctx := cmd.Context()
	a, err := NewApp(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}()
	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseSubID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid subscription id %q: %w", s, err)
	}
	return uint32(n), nil
}

func newMigrateCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, logger, func(_ context.Context, _ *App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Store)
				return nil
			})
		},
	}
}

func newInitCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	var (
		token    string
		minTopup string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the vault with the operator as administrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := types.ParseAmount(minTopup)
			if err != nil {
				return fmt.Errorf("--min-topup: %w", err)
			}
			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				ctx, op, err := a.AsOperator(ctx)
				if err != nil {
					return err
				}
				if err := a.Vault.Init(ctx, types.Address(token), op, amount); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "vault initialized: admin=%s token=%s min_topup=%s\n", op, token, amount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "settlement token address")
	cmd.Flags().StringVar(&minTopup, "min-topup", "", "minimum deposit amount")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("min-topup")
	return cmd
}

// vaultStatus is the status command's output.
type vaultStatus struct {
	Admin             types.Address `json:"admin"`
	Token             types.Address `json:"token"`
	MinTopup          types.Amount  `json:"min_topup"`
	SubscriptionCount uint32        `json:"subscription_count"`
	EmergencyStop     bool          `json:"emergency_stop"`
}

func newStatusCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vault settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				var (
					st  vaultStatus
					err error
				)
				if st.Admin, err = a.Vault.GetAdmin(ctx); err != nil {
					return err
				}
				if st.Token, err = a.Vault.GetToken(ctx); err != nil {
					return err
				}
				if st.MinTopup, err = a.Vault.GetMinTopup(ctx); err != nil {
					return err
				}
				if st.SubscriptionCount, err = a.Vault.GetSubscriptionCount(ctx); err != nil {
					return err
				}
				if st.EmergencyStop, err = a.Vault.GetEmergencyStopStatus(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newSubscriptionCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"sub"},
		Short:   "Inspect subscriptions",
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one subscription and its next charge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subID, err := parseSubID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				sub, err := a.Vault.GetSubscription(ctx, subID)
				if err != nil {
					return err
				}
				next, err := a.Vault.GetNextChargeInfo(ctx, subID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					*subvault.Subscription
					Next subscription.NextChargeInfo `json:"next_charge"`
				}{sub, next})
			})
		},
	}

	var offset, limit int
	list := &cobra.Command{
		Use:   "list <merchant>",
		Short: "List a merchant's subscriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			merchant := types.Address(args[0])
			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				subs, err := a.Vault.ListSubscriptionsByMerchant(ctx, merchant, offset, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), subs)
			})
		},
	}
	list.Flags().IntVar(&offset, "offset", 0, "subscriptions to skip")
	list.Flags().IntVar(&limit, "limit", 50, "maximum subscriptions to show")

	due := &cobra.Command{
		Use:   "due",
		Short: "List active subscriptions due for a charge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				subs, err := a.Vault.ListDueSubscriptions(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), subs)
			})
		},
	}
	due.Flags().IntVar(&limit, "limit", 50, "maximum subscriptions to show")

	cmd.AddCommand(get, list, due)
	return cmd
}

func newEventsCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	var (
		kind   string
		subID  string
		offset int
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List audit events in commit order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := event.ListOpts{Kind: event.Kind(kind), Offset: offset, Limit: limit}
			if subID != "" {
				n, err := parseSubID(subID)
				if err != nil {
					return err
				}
				opts.SubscriptionID = &n
			}
			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				events, err := a.Vault.ListEvents(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), events)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind")
	cmd.Flags().StringVar(&subID, "subscription", "", "only events of this subscription")
	cmd.Flags().IntVar(&offset, "offset", 0, "events to skip")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to show")
	return cmd
}

func newChargeCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "charge <id>...",
		Short: "Batch charge the given subscriptions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uint32, len(args))
			for i, arg := range args {
				n, err := parseSubID(arg)
				if err != nil {
					return err
				}
				ids[i] = n
			}
			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				ctx, _, err := a.AsOperator(ctx)
				if err != nil {
					return err
				}
				results, err := a.Vault.BatchCharge(ctx, ids)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}
}

func newChargeDueCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "charge-due",
		Short: "Charge one page of due subscriptions and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				op, err := a.Operator()
				if err != nil {
					return err
				}
				runner := scheduler.New(a.Vault, op,
					scheduler.WithPageSize(cfg.SchedulePageSize),
					scheduler.WithTimeout(cfg.ScheduleTimeout),
					scheduler.WithLogger(logger),
				)
				summary, err := runner.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "due=%d succeeded=%d failed=%d elapsed=%s\n",
					summary.Due, summary.Succeeded, summary.Failed, summary.Elapsed.Round(time.Millisecond))
				return nil
			})
		},
	}
}

func newEmergencyStopCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Toggle the emergency stop",
	}
	toggle := func(use, short string, stopped bool) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
					ctx, op, err := a.AsOperator(ctx)
					if err != nil {
						return err
					}
					if stopped {
						err = a.Vault.EnableEmergencyStop(ctx, op)
					} else {
						err = a.Vault.DisableEmergencyStop(ctx, op)
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "emergency stop: %t\n", stopped)
					return nil
				})
			},
		}
	}
	cmd.AddCommand(
		toggle("enable", "Halt charges, deposits and new subscriptions", true),
		toggle("disable", "Resume normal operation", false),
	)
	return cmd
}

func newSetMinTopupCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "set-min-topup <amount>",
		Short: "Change the minimum deposit amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := types.ParseAmount(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				ctx, op, err := a.AsOperator(ctx)
				if err != nil {
					return err
				}
				if err := a.Vault.SetMinTopup(ctx, op, amount); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "min_topup: %s\n", amount)
				return nil
			})
		},
	}
}
