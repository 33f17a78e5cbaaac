package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/labpattern"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

func newLabsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labs",
		Short: "Match lab values against the clinical pattern library",
	}
	cmd.AddCommand(newLabsAnalyzeCmd(app), newLabsRecentCmd(app))
	return cmd
}

func newLabsAnalyzeCmd(app *App) *cobra.Command {
	var (
		file   string
		stored bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [NAME=VALUE...]",
		Short: "Analyze a lab snapshot given as arguments, a JSON file or the stored history",
		Example: "  keymed labs analyze Sodium=128 \"BUN/Creatinine Ratio\"=24\n" +
			"  keymed labs analyze --file labs.json\n" +
			"  keymed labs analyze --stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()

			var labs map[string]clinical.LabValue
			if !stored {
				var err error
				if labs, err = collectLabs(file, args); err != nil {
					return err
				}
				if len(labs) == 0 {
					return errors.New(errors.ErrCodeLabsEmpty, "no lab values given")
				}
			}
			comps, err := app.Components(ctx)
			if err != nil {
				return err
			}

			var matches []labpattern.Match
			if stored {
				a, aErr := comps.Analysis.AnalyzeStoredLabs(ctx, "")
				if aErr != nil {
					return aErr
				}
				matches = a.Matches
			} else if matches, err = comps.Analysis.AnalyzeLabs(ctx, labs); err != nil {
				return err
			}
			if app.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), matches)
			}
			printMatches(cmd.OutOrStdout(), matches)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON object of lab name to value")
	cmd.Flags().BoolVar(&stored, "stored", false, "analyze the latest stored value of every lab")
	return cmd
}

// collectLabs merges the JSON file (if any) with NAME=VALUE arguments; the
// arguments win.
func collectLabs(file string, args []string) (map[string]clinical.LabValue, error) {
	labs := make(map[string]clinical.LabValue)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "failed to read labs file").WithDetail(file)
		}
		if err := json.Unmarshal(data, &labs); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "labs file must be a JSON object of name to value").WithDetail(file)
		}
	}
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.New(errors.ErrCodeBadRequest, "lab arguments must be NAME=VALUE").WithDetail(arg)
		}
		labs[name] = clinical.TextValue(raw)
	}
	return labs, nil
}

func printMatches(out io.Writer, matches []labpattern.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(out, "No patterns matched.")
		return
	}
	table := newTable(out, "Pattern", "Category", "Severity", "Confidence", "Required", "Matched")
	for _, m := range matches {
		table.Append([]string{
			m.Pattern.Name,
			m.Pattern.Category,
			severityLabel(m.Pattern.Severity),
			percent(m.Confidence),
			fmt.Sprintf("%d/%d", m.RequiredMatched, m.RequiredTotal),
			truncate(strings.Join(m.MatchedFindings, "; "), 60),
		})
	}
	table.Render()

	top := matches[0].Pattern
	if len(top.NextSteps) > 0 {
		fmt.Fprintf(out, "\nNext steps for %s:\n", top.Name)
		for _, s := range top.NextSteps {
			fmt.Fprintf(out, "  - %s\n", s.Action)
		}
	}
}

func severityLabel(s labpattern.Severity) string {
	switch s {
	case labpattern.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(string(s))
	case labpattern.SeverityHigh:
		return color.RedString(string(s))
	case labpattern.SeverityModerate:
		return color.YellowString(string(s))
	}
	return string(s)
}

func newLabsRecentCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recent pattern analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			comps, err := app.Components(ctx)
			if err != nil {
				return err
			}
			recent, err := comps.Analysis.RecentMatches(ctx, limit)
			if err != nil {
				return err
			}
			if app.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), recent)
			}
			out := cmd.OutOrStdout()
			if len(recent) == 0 {
				fmt.Fprintln(out, "No analyses recorded.")
				return nil
			}
			table := newTable(out, "Analyzed", "Source", "Labs", "Top pattern", "Confidence")
			for _, a := range recent {
				top, conf := "", ""
				if len(a.Matches) > 0 {
					top, conf = a.Matches[0].Pattern.Name, percent(a.Matches[0].Confidence)
				}
				table.Append([]string{a.AnalyzedAt.Format("2006-01-02 15:04:05"), a.Source, fmt.Sprint(a.LabCount), top, conf})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of analyses")
	return cmd
}

//Personal.AI order the ending
