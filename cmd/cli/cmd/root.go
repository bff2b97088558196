package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cpctl",
	Short: "Cpctl is a command line tool for interacting with the clusterplane platform",
	Long: `cpctl is the command-line interface for the ClusterPlane control plane.

ClusterPlane is a multi-tenant platform for provisioning cluster instances
from versioned definitions, with entitlement-based access control, encrypted
credential storage, durable background jobs, and a model gateway.

Common workflows:

  Provision an instance:
    cpctl provision --definition <definition-id>

  Grant a user access:
    cpctl grant <instance-id> --user <user-id> --role subscriber

  Store a provider key:
    cpctl credential store --secret "pplx-..." --scope llm

  Schedule a job:
    cpctl enqueue --instance <instance-id> --type daily-summary

  Check a job:
    cpctl status <job-id>

  Inspect an instance and its audit trail:
    cpctl instance <instance-id> --events

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    CLUSTERPLANE_URL      API endpoint (default: http://localhost:6161)
    CLUSTERPLANE_TOKEN    API key for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".cpctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".cpctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "CLUSTERPLANE_VARNAME"
	viper.SetEnvPrefix("CLUSTERPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cpctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "ClusterPlane Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API key for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
