package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/sheet"
)

var templateOut string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Write the upload spreadsheet template",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := os.Create(templateOut)
		if err != nil {
			return eris.Wrap(err, "create template")
		}
		if err := sheet.WriteTemplate(f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "close template")
		}

		zap.L().Info("template written", zap.String("path", templateOut))
		return nil
	},
}

func init() {
	templateCmd.Flags().StringVar(&templateOut, "out", "modelo_empresas.xlsx", "output path")
	rootCmd.AddCommand(templateCmd)
}
