package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/pdfmerge/internal/merge"
	"github.com/Lllllllleong/pdfmerge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the merge pipeline over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		s := server.New(newIngester(logger), merge.New(logger), logger, server.Config{
			RateLimitRequests: viper.GetInt("rate_limit"),
			MaxUploadBytes:    viper.GetInt64("max_upload_bytes"),
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return s.StartWithShutdown(ctx, viper.GetString("addr"))
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Int("rate-limit", 60, "requests per minute per client IP")
	serveCmd.Flags().Int64("max-upload-bytes", 256<<20, "maximum size of one merge request")
	_ = viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("rate_limit", serveCmd.Flags().Lookup("rate-limit"))
	_ = viper.BindPFlag("max_upload_bytes", serveCmd.Flags().Lookup("max-upload-bytes"))

	rootCmd.AddCommand(serveCmd)
}
