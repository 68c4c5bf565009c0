package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"payment-core/internal/event"
	"payment-core/internal/service/mq"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "持续打印事件流 (Ctrl+C 退出)",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		group, _ := cmd.Flags().GetString("group")

		d, err := connect()
		if err != nil {
			return err
		}
		defer d.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		consumer := d.consumer(group)
		defer consumer.Close()
		fmt.Printf("正在订阅 %s ...\n", topic)
		err = consumer.Subscribe(ctx, topic, func(msg *mq.Message) error {
			env, err := event.Decode(msg.Payload)
			if err != nil {
				fmt.Printf("无法解析的消息: %s\n", msg.Payload)
				return nil
			}
			// --account 为空时打印全部账户
			if accountID != "" && env.AccountID != accountID {
				return nil
			}
			fmt.Printf("%s  %-28s %s live=%t %s\n",
				env.OccurredAt.Format("15:04:05"), env.Type, env.AccountID, env.Live, env.Data)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	eventsCmd.Flags().String("topic", event.DefaultTopic, "订阅的 topic")
	eventsCmd.Flags().String("group", "payment_cli", "消费组")
	rootCmd.AddCommand(eventsCmd)
}
