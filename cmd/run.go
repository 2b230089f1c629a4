package cmd

import (
	"github.com/gregriff/duet/configs"
	server "github.com/gregriff/duet/internal"
	"github.com/gregriff/duet/internal/relay"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the duet relay",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("host", "", "address to listen on")
	runCmd.Flags().Int("port", 0, "port to listen on")
	_ = viper.BindPFlag("host", runCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("port", runCmd.Flags().Lookup("port"))
}

func runServer(_ *cobra.Command, _ []string) error {
	s, err := configs.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(s.LogLevel)

	st, err := openStores(s.Storage, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Error("error closing storage", "err", err)
		}
	}()
	log.Info("storage opened", "driver", s.Storage.Driver, "path", s.Storage.Path)

	conv, err := relay.NewConversation(s.Identities[0], s.Identities[1], st.messages, st.profiles, relay.Limits{
		MaxTextLength:  s.Messages.MaxTextLength,
		MaxAvatarBytes: s.Profiles.MaxAvatarBytes,
		OfferTimeout:   s.Calls.OfferTimeout,
		MaxPendingIce:  s.Calls.MaxPendingIce,
	}, log)
	if err != nil {
		return err
	}

	return server.CreateAndListen(s, relay.NewDispatcher(conv), log)
}
