// Package cmd contains the CLI setup and commands exposed to the user
package cmd

import (
	"log"

	"github.com/gregriff/duet/configs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ConfigFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "duet-server",
	Short: "Relays chat messages and WebRTC call signaling between two people",
	Long: `duet-server keeps the message history and profiles of a two person conversation,
and brokers the offer/answer/ICE handshake when one of them calls the other.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err.Error())
	}
}

func init() {
	// deferring this allows user to override config path with cli option
	cobra.OnInitialize(func() {
		log.Printf("using config file: %s", ConfigFile)
		if err := configs.InitConfig(ConfigFile); err != nil {
			log.Fatal(err.Error())
		}
	})

	rootCmd.PersistentFlags().StringVar(&ConfigFile, "config", configs.DefaultConfigFile(), "config file")
	rootCmd.PersistentFlags().Bool("debug", false, "debug logging")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}
