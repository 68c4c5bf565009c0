package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var revokeMandateCmd = &cobra.Command{
	Use:   "revoke-mandate <mandate-id>",
	Short: "撤销一个 active 的委托授权",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAccount(); err != nil {
			return err
		}
		d, err := connect()
		if err != nil {
			return err
		}
		defer d.close()

		m, err := d.payments.RevokeMandate(cmd.Context(), accountID, args[0])
		if err != nil {
			return err
		}
		m.Secret = ""
		printJSON(m)
		return nil
	},
}

var retryBridgeCmd = &cobra.Command{
	Use:   "retry-bridge <bridge-transfer-id>",
	Short: "重试一笔失败的跨链转账",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAccount(); err != nil {
			return err
		}
		d, err := connect()
		if err != nil {
			return err
		}
		defer d.close()

		t, err := d.bridges.RetryBridgeTransfer(cmd.Context(), accountID, args[0])
		if err != nil {
			return err
		}
		printJSON(t)
		return nil
	},
}

var eraseAccountCmd = &cobra.Command{
	Use:   "erase-account",
	Short: "删除账户在两种 live 模式下的全部数据 (不可恢复)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAccount(); err != nil {
			return err
		}
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to erase %s without --yes", accountID)
		}
		d, err := connect()
		if err != nil {
			return err
		}
		defer d.close()

		n, err := d.accounts.Erase(cmd.Context(), accountID)
		if err != nil {
			return err
		}
		fmt.Printf("✅ 已删除 %d 个 key\n", n)
		return nil
	},
}

func init() {
	eraseAccountCmd.Flags().Bool("yes", false, "确认删除")
	rootCmd.AddCommand(revokeMandateCmd)
	rootCmd.AddCommand(retryBridgeCmd)
	rootCmd.AddCommand(eraseAccountCmd)
}
