package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	accountID string
	live      bool
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "payment-cli",
	Short: "支付核心运维命令行工具",
	Long: `直接连接支付核心的存储执行运维操作:
手动同步/对账、撤销委托授权、重试跨链转账、删除账户数据、查看事件流。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountID, "account", "a", "", "账户 ID")
	rootCmd.PersistentFlags().BoolVar(&live, "live", false, "live 模式 (默认 test 模式)")
}

func requireAccount() error {
	if accountID == "" {
		return fmt.Errorf("--account is required")
	}
	return nil
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("序列化失败: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
