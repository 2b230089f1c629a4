package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gregriff/duet/configs"
	"github.com/gregriff/duet/internal/schemas"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the stored conversation",
	Long:  "Print every stored message of the conversation, deleted ones included. Stop the relay first when using badger.",
	Args:  cobra.NoArgs,
	RunE:  printHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Bool("visible", false, "hide deleted messages")
}

func printHistory(cmd *cobra.Command, _ []string) error {
	s, err := configs.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(s.LogLevel)

	st, err := openStores(s.Storage, log)
	if err != nil {
		return err
	}
	defer st.close()

	key := schemas.NewConversationKey(s.Identities[0], s.Identities[1])
	messages, err := st.messages.Load(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("error loading history: %w", err)
	}
	if visible, _ := cmd.Flags().GetBool("visible"); visible {
		messages = schemas.Visible(messages)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Id", "From", "Sent", "Text", "Deleted"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, m := range messages {
		deleted := ""
		if m.Deleted {
			deleted = "yes"
		}
		table.Append([]string{
			strconv.FormatInt(m.Id, 10),
			string(m.From),
			m.Timestamp.Local().Format(time.DateTime),
			m.Text,
			deleted,
		})
	}
	table.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "%d messages in %s\n", len(messages), key)
	return nil
}
