package cmd

import (
	"fmt"

	"payment-core/internal/service/syncer"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "同步一个账户的外部交易并推进付款状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAccount(); err != nil {
			return err
		}
		d, err := connect()
		if err != nil {
			return err
		}
		defer d.close()

		report, err := d.syncer.SyncAccount(cmd.Context(), accountID, live)
		if err != nil {
			return err
		}
		printJSON(report)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "立即对所有对账截止时间已到的账户执行一次同步",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := connect()
		if err != nil {
			return err
		}
		defer d.close()

		// 不加锁: 与定时 sweep 并发执行时同一个账户最多被多同步一次
		n, err := syncer.NewSweeper(d.syncer, nil, "", 0).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("✅ 已同步 %d 个账户\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(sweepCmd)
}
