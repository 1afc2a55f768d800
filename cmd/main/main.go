package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"drydock/internal/config"
	"drydock/internal/logging"
	"drydock/internal/version"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "drydock",
		Short: "Drydock - durable remote workspaces for coding agents",
		Long: `Drydock keeps an agent's working files alive across three places: the
local filesystem, an ephemeral remote sandbox, and a durable backup store.
Sandboxes can pause or disappear at any time; drydock recreates them from
the last backup and carries on.`,
		Version: version.GetVersionString(),
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./drydock.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("drydock")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DRYDOCK")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Printf("Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func initLogging() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logging.Initialize(false)
		return
	}
	logging.Initialize(cfg.Debug)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetFullVersionString())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
