package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"testmend/internal/config"
	"testmend/internal/envfile"
	"testmend/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "testmend",
	Short: "LLM-driven structural refactoring of Java test methods",
	Long: "Testmend takes a case list of detected test-code issues, asks a model\n" +
		"for a rewrite of each flagged test method, reviews the rewrite with an\n" +
		"adversarial second prompt, runs the accepted rewrite through the\n" +
		"project's build tool, and restores every checkout afterwards.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "testmend.yaml", "Path to config file")
	rootCmd.AddCommand(refactorCmd)
	rootCmd.AddCommand(casesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.Version = version
}

// loadConfig reads the .env file, the config file, and initializes logging.
func loadConfig() (config.Config, error) {
	envfile.Load()
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	logging.Init(cfg.SlogLevel(), cfg.LogFormat)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
