package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadcheck/internal/board"
	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/validate"
)

var (
	boardSummary bool
	boardStage   string
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show companies grouped by sales stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if boardStage != "" {
			stage, err := model.ParseStage(boardStage)
			if err != nil {
				return err
			}
			col, err := board.New(st).ProjectStage(cmd.Context(), stage)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), col)
		}

		b, err := board.New(st).Project(cmd.Context())
		if err != nil {
			return err
		}
		if boardSummary {
			printBoardSummary(cmd.OutOrStdout(), b)
			return nil
		}
		return printResult(cmd.OutOrStdout(), b)
	},
}

func printBoardSummary(w io.Writer, b *board.Board) {
	for _, col := range b.Columns {
		fmt.Fprintf(w, "%-18s %d\n", col.Label, len(col.Cards))
	}
	fmt.Fprintf(w, "%-18s %d\n", "Total", b.Total)
}

var moveCmd = &cobra.Command{
	Use:   "move CNPJ STAGE",
	Short: "Move a company to another stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cnpj, err := cnpjArg(args[0])
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		b, err := board.New(st).Move(cmd.Context(), cnpj, args[1])
		if err != nil {
			return err
		}
		printBoardSummary(cmd.OutOrStdout(), b)
		return nil
	},
}

var (
	notesText      string
	notesNext      string
	notesClearNext bool
)

var notesCmd = &cobra.Command{
	Use:   "notes CNPJ",
	Short: "Set the notes and next contact date of a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cnpj, err := cnpjArg(args[0])
		if err != nil {
			return err
		}
		if notesNext != "" && notesClearNext {
			return eris.New("--next and --clear-next are mutually exclusive")
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var next *time.Time
		if notesNext != "" {
			d, err := time.Parse(time.DateOnly, notesNext)
			if err != nil {
				return eris.Errorf("invalid --next date %q, want YYYY-MM-DD", notesNext)
			}
			next = &d
		} else if !notesClearNext {
			// Keep the stored date unless asked to clear it.
			c, err := st.Lookup(cmd.Context(), cnpj)
			if err != nil {
				return err
			}
			if c != nil {
				next = c.NextContactDate
			}
		}

		if _, err := board.New(st).SaveNotes(cmd.Context(), cnpj, notesText, next); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "notes saved for %s\n", cnpj)
		return nil
	},
}

func cnpjArg(raw string) (string, error) {
	cnpj := validate.NormalizeCNPJ(raw)
	if !validate.ValidCNPJ(cnpj) {
		return "", eris.Errorf("invalid CNPJ %q", raw)
	}
	return cnpj, nil
}

func init() {
	boardCmd.Flags().BoolVar(&boardSummary, "summary", false, "print card counts per stage only")
	boardCmd.Flags().StringVar(&boardStage, "stage", "", "show only the column of this stage")
	notesCmd.Flags().StringVar(&notesText, "text", "", "notes text (replaces the stored notes)")
	notesCmd.Flags().StringVar(&notesNext, "next", "", "next contact date, YYYY-MM-DD")
	notesCmd.Flags().BoolVar(&notesClearNext, "clear-next", false, "clear the next contact date")
	rootCmd.AddCommand(boardCmd, moveCmd, notesCmd)
}
