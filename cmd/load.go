package main

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load FILE",
	Short: "Validate a spreadsheet and start a new batch session",
	Long:  "Validates every row first. Only a fully valid file replaces the current session.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := parseSheet(cmd.ErrOrStderr(), args[0])
		if err != nil {
			return err
		}
		if len(res.Rows) == 0 {
			return eris.New("no rows to process")
		}

		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Controller.Load(cmd.Context(), res.Rows, filepath.Base(args[0])); err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), env.Controller.Status())
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
