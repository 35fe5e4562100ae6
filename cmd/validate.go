package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadcheck/internal/sheet"
	"github.com/sells-group/leadcheck/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a spreadsheet without loading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := parseSheet(cmd.ErrOrStderr(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rows valid, %d skipped\n", len(res.Rows), res.Skipped)
		return nil
	},
}

// parseSheet reads and validates path. Validation problems are listed on w
// before the error is returned.
func parseSheet(w io.Writer, path string) (*validate.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open spreadsheet")
	}
	defer f.Close() //nolint:errcheck

	res, err := sheet.Parse(f, filepath.Base(path), cfg.ValidateOptions())
	if err != nil {
		var verrs validate.Errors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				fmt.Fprintln(w, e.Error())
			}
			return nil, eris.Errorf("%d validation problems, nothing was loaded", len(verrs))
		}
		return nil, err
	}
	return res, nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
