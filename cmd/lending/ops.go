package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"lendingScope/internal/chain"
	"lendingScope/internal/lending"
)

func poolCommands() []*cobra.Command {
	initPool := &cobra.Command{
		Use:   "init-pool ASSET",
		Short: "Create a lending pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, _ := cmd.Flags().GetUint64("liquidation-threshold")
			maxLTV, _ := cmd.Flags().GetUint64("max-ltv")
			params := lending.DefaultPoolParams(args[0], threshold, maxLTV)
			params.LiquidationBonus, _ = cmd.Flags().GetUint64("liquidation-bonus")
			params.LiquidationCloseFactor, _ = cmd.Flags().GetUint64("close-factor")
			params.BaseRateBps, _ = cmd.Flags().GetUint64("base-rate")
			params.Slope1Bps, _ = cmd.Flags().GetUint64("slope1")
			params.Slope2Bps, _ = cmd.Flags().GetUint64("slope2")
			params.OptimalUtilizationBps, _ = cmd.Flags().GetUint64("optimal-utilization")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				pool, err := a.engine.InitPool(ctx, params)
				if err != nil {
					return err
				}
				return printJSON(cmd, pool)
			})
		},
	}
	defaults := lending.DefaultPoolParams("", 0, 0)
	initPool.Flags().Uint64("liquidation-threshold", 80, "liquidation threshold percent")
	initPool.Flags().Uint64("max-ltv", 75, "maximum loan-to-value percent")
	initPool.Flags().Uint64("liquidation-bonus", defaults.LiquidationBonus, "liquidation bonus percent")
	initPool.Flags().Uint64("close-factor", defaults.LiquidationCloseFactor, "liquidation close factor percent")
	initPool.Flags().Uint64("base-rate", defaults.BaseRateBps, "base borrow rate in bps")
	initPool.Flags().Uint64("slope1", defaults.Slope1Bps, "rate slope below optimal utilization in bps")
	initPool.Flags().Uint64("slope2", defaults.Slope2Bps, "rate slope above optimal utilization in bps")
	initPool.Flags().Uint64("optimal-utilization", defaults.OptimalUtilizationBps, "optimal utilization in bps")

	pools := &cobra.Command{
		Use:   "pools [ASSET]",
		Short: "Show pools with their current rates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					view, err := a.engine.Pool(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, view)
				}
				views, err := a.engine.Pools(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, views)
			})
		},
	}

	accrue := &cobra.Command{
		Use:   "accrue [ASSET]",
		Short: "Accrue interest on one pool or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if len(args) == 0 {
					return a.engine.AccrueAll(ctx)
				}
				interest, err := a.engine.AccruePool(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]uint64{"interest": interest})
			})
		},
	}

	return []*cobra.Command{initPool, pools, accrue}
}

type balanceFunc func(ctx context.Context, owner common.Address, asset string, amount uint64) (lending.Result, error)

func positionCommands() []*cobra.Command {
	initPosition := &cobra.Command{
		Use:   "init-position OWNER STABLE_ASSET",
		Short: "Open a position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := chain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				pos, err := a.engine.InitPosition(ctx, owner, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, pos)
			})
		},
	}

	position := &cobra.Command{
		Use:   "position OWNER",
		Short: "Show a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := chain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				pos, err := a.engine.Position(ctx, owner)
				if err != nil {
					return err
				}
				return printJSON(cmd, pos)
			})
		},
	}

	balance := func(use, short string, op func(e *lending.Engine) balanceFunc) *cobra.Command {
		return &cobra.Command{
			Use:   use + " OWNER ASSET AMOUNT",
			Short: short,
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				owner, err := chain.ParseAddress(args[0])
				if err != nil {
					return err
				}
				amount, err := strconv.ParseUint(args[2], 10, 64)
				if err != nil {
					return fmt.Errorf("parse amount: %w", err)
				}
				return withApp(cmd, func(ctx context.Context, a *app) error {
					res, err := op(a.engine)(ctx, owner, args[1], amount)
					if err != nil {
						return err
					}
					return printJSON(cmd, res)
				})
			},
		}
	}

	liquidate := &cobra.Command{
		Use:   "liquidate LIQUIDATOR BORROWER DEBT_ASSET COLLATERAL_ASSET",
		Short: "Liquidate an undercollateralized position",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			liquidator, err := chain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			borrower, err := chain.ParseAddress(args[1])
			if err != nil {
				return err
			}
			req := lending.LiquidationRequest{
				Liquidator:      liquidator,
				Borrower:        borrower,
				DebtAsset:       args[2],
				CollateralAsset: args[3],
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.engine.Liquidate(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}

	return []*cobra.Command{
		initPosition,
		position,
		balance("deposit", "Deposit collateral", func(e *lending.Engine) balanceFunc { return e.Deposit }),
		balance("withdraw", "Withdraw collateral", func(e *lending.Engine) balanceFunc { return e.Withdraw }),
		balance("borrow", "Borrow from a pool", func(e *lending.Engine) balanceFunc { return e.Borrow }),
		balance("repay", "Repay borrowed funds", func(e *lending.Engine) balanceFunc { return e.Repay }),
		liquidate,
	}
}

func monitorCommands() []*cobra.Command {
	ownerCmd := func(use, short string, fn func(ctx context.Context, a *app, owner common.Address) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " OWNER",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				owner, err := chain.ParseAddress(args[0])
				if err != nil {
					return err
				}
				return withApp(cmd, func(ctx context.Context, a *app) error {
					out, err := fn(ctx, a, owner)
					if err != nil || out == nil {
						return err
					}
					return printJSON(cmd, out)
				})
			},
		}
	}

	setThreshold := &cobra.Command{
		Use:   "set-threshold OWNER THRESHOLD FREQUENCY_HOURS",
		Short: "Set the alert threshold and minimum hours between alerts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := chain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			threshold, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parse threshold: %w", err)
			}
			hours, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("parse frequency: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.engine.SetThreshold(ctx, owner, threshold, hours)
			})
		},
	}

	return []*cobra.Command{
		ownerCmd("enable-monitoring", "Enable health alerts", func(ctx context.Context, a *app, owner common.Address) (any, error) {
			return nil, a.engine.EnableMonitoring(ctx, owner)
		}),
		ownerCmd("disable-monitoring", "Disable health alerts", func(ctx context.Context, a *app, owner common.Address) (any, error) {
			return nil, a.engine.DisableMonitoring(ctx, owner)
		}),
		setThreshold,
		ownerCmd("check-health", "Recompute the health factor", func(ctx context.Context, a *app, owner common.Address) (any, error) {
			return a.engine.CheckHealth(ctx, owner)
		}),
		ownerCmd("snapshot", "Record a health snapshot", func(ctx context.Context, a *app, owner common.Address) (any, error) {
			return a.engine.CreateSnapshot(ctx, owner)
		}),
		ownerCmd("snapshots", "List health snapshots", func(ctx context.Context, a *app, owner common.Address) (any, error) {
			return a.engine.Snapshots(ctx, owner)
		}),
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
