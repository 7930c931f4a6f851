package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	root := &cobra.Command{
		Use:   "morphbert",
		Short: "fine-tune a sequence classifier with morphological feature fusion",
	}

	var verbose bool
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	root.PersistentFlags().String("config", "", "optional config file with flag defaults")

	root.AddCommand(trainCmd(&verbose))
	root.AddCommand(preprocessCmd(&verbose))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Production config keeps training
// logs machine-readable; --verbose switches to development output.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bindConfig layers an optional config file and MORPHBERT_* environment
// variables under the command's flags. Explicitly set flags win.
func bindConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("morphbert")
	v.AutomaticEnv()

	if cfg, _ := cmd.Flags().GetString("config"); cfg != "" {
		v.SetConfigFile(cfg)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}
