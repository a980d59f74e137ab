package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"paysettle/internal/config"
	"paysettle/internal/fee"
	"paysettle/internal/gateway"
	"paysettle/internal/infrastructure/database"
	"paysettle/internal/model"
	"paysettle/internal/service"
	"paysettle/pkg/money"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "settlectl",
		Short:         "结算引擎运维工具",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "config/config.yaml", "配置文件路径")

	root.AddCommand(newFeeCmd())
	root.AddCommand(newReconcileCmd())
	return root
}

// fee 离线计算手续费，不访问数据库
func newFeeCmd() *cobra.Command {
	var installments int

	cmd := &cobra.Command{
		Use:   "fee <amount> <type>",
		Short: "计算本地结算手续费，例如 settlectl fee 100.00 CREDIT_INSTALLMENT -n 12",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFee(cmd.OutOrStdout(), args[0], args[1], installments)
		},
	}
	cmd.Flags().IntVarP(&installments, "installments", "n", 1, "分期数")
	return cmd
}

func runFee(out io.Writer, amountArg, typeArg string, installments int) error {
	amount, err := decimal.NewFromString(amountArg)
	if err != nil {
		return fmt.Errorf("金额格式错误: %w", err)
	}
	cents, err := money.ToCents(amount)
	if err != nil {
		return err
	}
	paymentType, ok := model.NormalizePaymentType(typeArg)
	if !ok {
		return fmt.Errorf("%w: %q", service.ErrInvalidPaymentType, typeArg)
	}

	q, err := fee.NewCalculator().Quote(cents, paymentType, installments)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "type:         %s\n", paymentType)
	fmt.Fprintf(out, "installments: %d\n", installments)
	fmt.Fprintf(out, "rate:         %s%%\n", q.Rate.Mul(decimal.NewFromInt(100)).String())
	fmt.Fprintf(out, "amount:       %s\n", money.Format(q.Amount))
	fmt.Fprintf(out, "fee:          %s\n", money.Format(q.Fee))
	fmt.Fprintf(out, "net amount:   %s\n", money.Format(q.NetAmount))
	return nil
}

// reconcile 对一笔或所有超时 PENDING 交易做一次网关查询
func newReconcileCmd() *cobra.Command {
	var (
		allPending bool
		olderThan  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile [order_reference...]",
		Short: "向网关查询支付状态并对账",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !allPending {
				return fmt.Errorf("需要指定订单追踪号，或使用 --all-pending")
			}

			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			db, err := database.Open(&cfg.Database)
			if err != nil {
				return err
			}

			ledger := service.NewLedger(db, cfg.Kafka.Topic.SettlementResult)
			client := gateway.NewClient(cfg.Gateway)
			reconciler := service.NewReconcileService(ledger, client, nil)

			refs := args
			if allPending {
				txns, err := ledger.ListStalePending(cmd.Context(), olderThan, cfg.Business.ReconcileBatchSize)
				if err != nil {
					return err
				}
				for _, t := range txns {
					refs = append(refs, t.OrderReference)
				}
			}
			return runReconcile(cmd.Context(), cmd.OutOrStdout(), reconciler, refs)
		},
	}
	cmd.Flags().BoolVar(&allPending, "all-pending", false, "处理所有超时未结算的交易")
	cmd.Flags().DurationVar(&olderThan, "older-than", 2*time.Minute, "配合 --all-pending，只处理创建超过该时长的交易")
	return cmd
}

type reconciler interface {
	Reconcile(ctx context.Context, orderReference string) (bool, error)
}

func runReconcile(ctx context.Context, out io.Writer, r reconciler, refs []string) error {
	var failed []string
	for _, ref := range refs {
		settled, err := r.Reconcile(ctx, ref)
		switch {
		case err != nil:
			failed = append(failed, ref)
			fmt.Fprintf(out, "%s\terror: %v\n", ref, err)
		case settled:
			fmt.Fprintf(out, "%s\tsettled\n", ref)
		default:
			fmt.Fprintf(out, "%s\tnot settled\n", ref)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d 笔对账失败: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}
