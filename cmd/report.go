package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/api"
	"github.com/sells-group/leadcheck/internal/report"
	"github.com/sells-group/leadcheck/internal/store"
)

var reportField string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Count companies by registration status or stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		field, err := store.ParseCountField(reportField)
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := report.New(st).Counts(cmd.Context(), field)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printResult(cmd.OutOrStdout(), counts)
		}
		total := 0
		for _, c := range counts {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %d\n", c.Label, c.Count)
			total += c.Count
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %d\n", "Total", total)
		return nil
	},
}

var (
	exportFormat string
	exportOut    string
	exportStart  string
	exportEnd    string
	exportStatus string
	exportStage  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored companies to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format := strings.ToLower(exportFormat)
		if format != "csv" && format != "xlsx" {
			return eris.Errorf("unknown format %q, want csv or xlsx", exportFormat)
		}
		f, err := api.ParseFilter(url.Values{
			"start":  {exportStart},
			"end":    {exportEnd},
			"status": {exportStatus},
			"stage":  {exportStage},
		})
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := report.New(st).Export(cmd.Context(), f)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = "relatorio." + format
		}
		file, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "create export file")
		}
		if format == "xlsx" {
			err = report.WriteXLSX(file, rows)
		} else {
			err = report.WriteCSV(file, rows)
		}
		if err != nil {
			_ = file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return eris.Wrap(err, "close export file")
		}

		zap.L().Info("export complete", zap.String("path", out), zap.Int("rows", len(rows)))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportField, "by", string(store.CountByStatus), "group by registration_status or stage")

	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or xlsx")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default relatorio.<format>)")
	exportCmd.Flags().StringVar(&exportStart, "start", "", "first creation date, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportEnd, "end", "", "last creation date, YYYY-MM-DD (inclusive)")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "registration status")
	exportCmd.Flags().StringVar(&exportStage, "stage", "", "sales stage")

	rootCmd.AddCommand(reportCmd, exportCmd)
}
