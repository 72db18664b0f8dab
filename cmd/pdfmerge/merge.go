package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/pdfmerge/internal/session"
)

var mergeCmd = &cobra.Command{
	Use:   "merge -o OUTPUT FILE...",
	Short: "Ingest files and merge the accepted documents in order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output := viper.GetString("output")
		if output == "" {
			return errors.New("an output path is required (-o)")
		}

		sess := newSession()
		validity := sess.Open(args)
		report(cmd.OutOrStdout(), sess)

		if err := mergeAllowed(sess, validity, viper.GetBool("allow_partial")); err != nil {
			return err
		}
		if err := sess.Merge(output); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringP("output", "o", "", "path of the merged PDF")
	mergeCmd.Flags().Bool("allow-partial", false, "merge the accepted documents even when some inputs failed")
	_ = viper.BindPFlag("output", mergeCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("allow_partial", mergeCmd.Flags().Lookup("allow-partial"))

	rootCmd.AddCommand(mergeCmd)
}

func mergeAllowed(sess *session.Session, validity session.Validity, allowPartial bool) error {
	if len(sess.CurrentDocuments()) == 0 {
		return errors.New("no input could be ingested; nothing to merge")
	}
	if validity == session.SomeInvalid && !allowPartial {
		return fmt.Errorf("%w; pass --allow-partial to merge the rest", errSomeInvalid)
	}
	return nil
}
