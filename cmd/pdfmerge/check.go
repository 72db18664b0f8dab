package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/pdfmerge/internal/session"
)

var errSomeInvalid = errors.New("some inputs could not be ingested")

var checkCmd = &cobra.Command{
	Use:   "check FILE...",
	Short: "Ingest files and report which would be merged",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := newSession()
		validity := sess.Open(args)
		report(cmd.OutOrStdout(), sess)
		if validity == session.SomeInvalid {
			return errSomeInvalid
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// report prints one line per input followed by the batch summary.
func report(w io.Writer, sess *session.Session) {
	paths := sess.Paths()
	recovered := 0
	for _, o := range sess.Outcomes() {
		switch {
		case o.Recovered():
			recovered++
			fmt.Fprintf(w, "recovered  %s\n", paths[o.Index])
		case o.Accepted():
			fmt.Fprintf(w, "ok         %s\n", paths[o.Index])
		default:
			fmt.Fprintf(w, "failed     %s: %v\n", paths[o.Index], o.Err)
		}
	}
	fmt.Fprintf(w, "%d inputs, %d documents (%d recovered), %d failed: %s\n",
		len(paths), len(sess.CurrentDocuments()), recovered, sess.Failures(), sess.Validity())
	if msg, ok := sess.LastErrorMessage(); ok {
		fmt.Fprintf(w, "last error: %s\n", msg)
	}
}
