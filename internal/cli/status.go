package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/bspstage/internal/journal"
)

var statusVerify bool

var statusCmd = &cobra.Command{
	Use:   "status [board]",
	Short: "Show the last staging run of a board",
	Long: `Show the journal of the last run of a board, or a summary of every
journaled board when no board is given.

With --verify the board directory is digested again and compared with the
digest recorded by the last successful run.`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeBoards,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := current.store()
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			return printAllStatus(out, store)
		}
		board := args[0]

		if statusVerify {
			result, err := journal.Verify(store, current.hasher(), board)
			if jsonOutput && result != nil {
				if jerr := outputJSON(out, result); jerr != nil {
					return jerr
				}
				return err
			}
			if err != nil {
				if errors.Is(err, journal.ErrDrift) {
					PrintLabelValue(out, "Recorded", result.Record.Digest)
					PrintLabelValue(out, "Current", result.Current)
				}
				return err
			}
			PrintSuccess(out, fmt.Sprintf("%s matches the run of %s (digest %s)",
				result.Record.BoardDir, result.Record.FinishedAt.Format(time.DateTime), shortDigest(result.Current)))
			return nil
		}

		record, err := store.Load(board)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(out, record)
		}
		printRecord(out, record)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusVerify, "verify", false, "Check the board directory against the recorded digest")
}

func printRecord(w io.Writer, r *journal.Record) {
	PrintSection(w, fmt.Sprintf("Board %s", r.Board))
	PrintLabelValue(w, "Board dir", r.BoardDir)
	if r.Pipeline != "" {
		PrintLabelValue(w, "Pipeline", r.Pipeline)
	}
	PrintLabelValueWithColor(w, "Status", r.Status, statusColor(r.Status))
	PrintLabelValue(w, "Started", r.StartedAt.Local().Format(time.DateTime))
	if !r.FinishedAt.IsZero() {
		PrintLabelValue(w, "Finished", r.FinishedAt.Local().Format(time.DateTime))
		PrintLabelValue(w, "Duration", r.Duration().Round(time.Millisecond).String())
	}
	if r.Revision != "" {
		rev := shortDigest(r.Revision)
		if r.Dirty {
			rev += " (dirty)"
		}
		PrintLabelValue(w, "Revision", rev)
	}
	if r.Digest != "" {
		PrintLabelValue(w, "Digest", r.Digest)
	}
	if r.Error != "" {
		PrintLabelValueWithColor(w, "Error", r.Error, errorColor)
	}
	_, _ = fmt.Fprintln(w)

	if len(r.Steps) == 0 {
		PrintEmptyState(w, "No steps recorded")
		return
	}
	rows := make([][]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		detail := s.Detail
		if s.Error != "" {
			detail = s.Error
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.Index),
			s.Op,
			s.Name,
			statusColor(s.Status).Sprint(s.Status),
			s.Duration.Round(time.Millisecond).String(),
			detail,
		})
	}
	PrintTable(w, []string{"#", "Op", "Name", "Status", "Duration", "Detail"}, rows)
}

func printAllStatus(w io.Writer, store journal.RecordStore) error {
	boards, err := store.List()
	if err != nil {
		return err
	}

	records := make([]*journal.Record, 0, len(boards))
	for _, board := range boards {
		r, err := store.Load(board)
		if err != nil {
			return err
		}
		records = append(records, r)
	}

	if jsonOutput {
		return outputJSON(w, records)
	}

	PrintSection(w, "Staged boards")
	if len(records) == 0 {
		PrintEmptyState(w, "No boards staged yet")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		finished := "-"
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{r.Board, statusColor(r.Status).Sprint(r.Status), finished, shortDigest(r.Digest)})
	}
	PrintTable(w, []string{"Board", "Status", "Finished", "Digest"}, rows)
	return nil
}
