package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

type importOptions struct {
	onReview string
}

// importResult is the JSON shape of a finished import.
type importResult struct {
	SessionID string                   `json:"session_id"`
	Status    *importing.Status        `json:"status"`
	Summary   *importing.ImportSummary `json:"summary,omitempty"`
}

func newImportCmd(app *App) *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a clinical document into the record store",
		Long: "import parses the document, checks every extracted record against the\n" +
			"stored history and writes the new ones.  Probable duplicates are skipped;\n" +
			"records that need review follow --on-review.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, app, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.onReview, "on-review", string(importing.DecisionSkip), "decision for records that need review (import, skip)")
	cmd.AddCommand(newImportHistoryCmd(app))
	return cmd
}

func runImport(cmd *cobra.Command, app *App, opts *importOptions, path string) error {
	onReview := importing.Decision(strings.ToLower(opts.onReview))
	if !onReview.IsValid() {
		return errors.New(errors.ErrCodeInvalidDecision, "unknown --on-review decision").WithDetail(opts.onReview)
	}
	ctx, cancel := app.context(cmd)
	defer cancel()

	text, err := readDocument(cmd, path)
	if err != nil {
		return err
	}
	comps, err := app.Components(ctx)
	if err != nil {
		return err
	}
	svc := comps.Imports

	id, err := svc.SubmitDocument(ctx, text)
	if err != nil {
		return err
	}
	if err := waitParsed(ctx, svc, id); err != nil {
		return err
	}
	st, err := svc.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if st.State == importing.StateError {
		code := errors.ErrorCode(st.ErrorCode)
		if code == "" {
			code = errors.ErrCodeInternal
		}
		return errors.New(code, "document could not be parsed").WithDetail(st.Error)
	}

	summary, err := svc.ConfirmImport(ctx, id, nil)
	if errors.IsCode(err, errors.ErrCodeDecisionRequired) {
		pending, sErr := svc.GetStatus(ctx, id)
		if sErr != nil {
			return sErr
		}
		decisions := make(importing.Decisions, len(pending.PendingReview))
		for _, key := range pending.PendingReview {
			decisions[key] = onReview
		}
		summary, err = svc.ConfirmImport(ctx, id, decisions)
	}
	final, sErr := svc.GetStatus(ctx, id)
	if sErr == nil {
		st = final
	}
	if app.jsonOutput() {
		if pErr := printJSON(cmd.OutOrStdout(), importResult{SessionID: id, Status: st, Summary: summary}); pErr != nil {
			return pErr
		}
		return err
	}
	printImport(cmd.OutOrStdout(), st, summary)
	return err
}

// waitParsed polls until the background parse leaves the parsing states.
func waitParsed(ctx context.Context, svc *importing.Service, id string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := svc.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		if st.State != importing.StateIdle && st.State != importing.StateParsing {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "waiting for document parse").WithDetail(id)
		case <-ticker.C:
		}
	}
}

func printImport(out io.Writer, st *importing.Status, summary *importing.ImportSummary) {
	fmt.Fprintf(out, "Session:       %s\n", st.SessionID)
	fmt.Fprintf(out, "State:         %s\n", stateLabel(st.State))
	if st.DocumentType != "" {
		fmt.Fprintf(out, "Document type: %s\n", st.DocumentType)
	}
	if st.Extraction != nil {
		fmt.Fprintf(out, "Confidence:    %s\n", confidenceLabel(st.Extraction.Confidence))
	}

	if len(st.Duplicates) > 0 {
		fmt.Fprintln(out, "\nRecords")
		table := newTable(out, "Key", "Record", "Recommendation", "Decision", "Best match")
		for _, c := range st.Duplicates {
			best := ""
			if len(c.Matches) > 0 {
				best = percent(c.Matches[0].Confidence)
			}
			table.Append([]string{c.Key, truncate(c.Record.Name(), 40), string(c.Recommendation), string(c.Decision), best})
		}
		table.Render()
	}

	if summary != nil {
		fmt.Fprintln(out, "\nSummary")
		table := newTable(out, "Kind", "Imported", "Skipped")
		for _, kind := range clinical.AllRecordKinds() {
			imp, skip := summary.Imported[kind], summary.Skipped[kind]
			if imp == 0 && skip == 0 {
				continue
			}
			table.Append([]string{string(kind), strconv.Itoa(imp), strconv.Itoa(skip)})
		}
		table.SetFooter([]string{"total", strconv.Itoa(summary.ImportedTotal()), strconv.Itoa(summary.SkippedTotal())})
		table.Render()
		if summary.Failed > 0 {
			fmt.Fprintf(out, "%s %d record(s) failed to import\n", color.RedString("error:"), summary.Failed)
		}
	}
	if st.Extraction != nil {
		for _, w := range st.Extraction.Warnings {
			fmt.Fprintf(out, "%s %s\n", color.YellowString("warning:"), w)
		}
	}
}

func stateLabel(s importing.State) string {
	switch s {
	case importing.StateComplete:
		return color.GreenString(string(s))
	case importing.StateError:
		return color.RedString(string(s))
	}
	return color.YellowString(string(s))
}

func newImportHistoryCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished import sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			comps, err := app.Components(ctx)
			if err != nil {
				return err
			}
			entries, err := comps.Imports.History(ctx, limit)
			if err != nil {
				return err
			}
			if app.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No import sessions recorded.")
				return nil
			}
			table := newTable(out, "Session", "Type", "State", "Imported", "Skipped", "Confidence", "Finished")
			for _, e := range entries {
				table.Append([]string{
					e.SessionID,
					string(e.DocumentType),
					stateLabel(e.State),
					strconv.Itoa(e.Imported),
					strconv.Itoa(e.Skipped),
					percent(e.Confidence),
					e.FinishedAt.Format(time.RFC3339),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions")
	return cmd
}

//Personal.AI order the ending
