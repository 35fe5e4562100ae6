package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/report"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Restore companies from an exported CSV",
	Long:  "Reads a CSV written by export and inserts the companies that are not stored yet. Existing records are left untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck

		rows, err := report.ReadCSV(f)
		if err != nil {
			return eris.Wrap(err, "read csv")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		companies := make([]model.Company, len(rows))
		for i, r := range rows {
			companies[i] = r.Company()
		}
		inserted, err := st.Import(ctx, companies)
		if err != nil {
			return eris.Wrap(err, "import companies")
		}

		zap.L().Info("import complete",
			zap.Int("rows", len(rows)),
			zap.Int64("inserted", inserted),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
