// Package main is the entry point for the pdfmerge CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/pdfmerge/internal/ingest"
	"github.com/Lllllllleong/pdfmerge/internal/merge"
	"github.com/Lllllllleong/pdfmerge/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pdfmerge",
	Short: "Validate, recover and merge batches of PDF files",
	Long: `pdfmerge ingests a batch of PDF files, repairs the ones whose
cross-reference table is damaged, and merges the surviving documents in
input order.

Settings can also come from ./pdfmerge.yaml, a .env file, or PDFMERGE_*
environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./pdfmerge.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log every ingestion step")
	rootCmd.PersistentFlags().Int("parallel", 1, "number of inputs ingested concurrently")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("parallel", rootCmd.PersistentFlags().Lookup("parallel"))
}

func initConfig() {
	_ = godotenv.Load()

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("pdfmerge")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("PDFMERGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newIngester(logger *slog.Logger) session.Ingester {
	pipeline := ingest.NewDefaultPipeline(logger)
	if n := viper.GetInt("parallel"); n > 1 {
		return pipeline.Parallel(n)
	}
	return pipeline
}

// newSession wires the default pipeline and merger.
func newSession() *session.Session {
	logger := slog.Default()
	return session.New(newIngester(logger), merge.New(logger))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
