package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var configPath string
	root := &cobra.Command{
		Use:           "aigateway",
		Short:         "aigateway — LLM gateway for the Northwind website's AI features",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "aigateway.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newStatsCmd(&configPath),
		newCacheCmd(&configPath),
		newTranslateCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
