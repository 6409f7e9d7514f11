package root

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Exported RootCmd
var RootCmd = &cobra.Command{
	Use:           "chaosctl",
	Short:         "Chaos scheduler CLI",
	Long:          "Command line interface for registering targets, scheduling chaos experiments and reading run logs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.chaosctl.yaml)")
	RootCmd.PersistentFlags().String("api-url", "", "chaos scheduler API base URL (env CHAOS_API_URL)")
	RootCmd.PersistentFlags().Bool("json", false, "print raw JSON instead of tables")
	_ = viper.BindPFlag("api_url", RootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("json", RootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName(".chaosctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(home)
		viper.AddConfigPath(filepath.Join(home, ".config", "chaosctl"))
	}

	viper.SetEnvPrefix("CHAOS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		}
	}
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Optional helper to return the RootCmd
func GetRoot() *cobra.Command {
	return RootCmd
}
