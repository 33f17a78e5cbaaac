package cli

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/KeyMed-Intelligence/internal/intelligence/doc_classifier"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

func newClassifyCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "classify FILE",
		Short: "Detect the type of a clinical document (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			res := doc_classifier.NewClassifier(app.Config.Extraction.MinClassifierSignal).Explain(text)
			if app.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printClassification(cmd, res)
		},
	}
}

func printClassification(cmd *cobra.Command, res doc_classifier.Classification) error {
	out := cmd.OutOrStdout()
	label := string(res.Type)
	if res.Type == clinical.DocumentUnknown {
		label = color.YellowString(label)
	} else {
		label = color.GreenString(label)
	}
	fmt.Fprintf(out, "Document type: %s (score %.1f)\n", label, res.Score)

	types := make([]clinical.DocumentType, 0, len(res.Scores))
	for t := range res.Scores {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if res.Scores[types[i]] != res.Scores[types[j]] {
			return res.Scores[types[i]] > res.Scores[types[j]]
		}
		return types[i] < types[j]
	})
	if len(types) > 0 {
		table := newTable(out, "Type", "Score")
		for _, t := range types {
			table.Append([]string{string(t), fmt.Sprintf("%.1f", res.Scores[t])})
		}
		table.Render()
	}
	for _, s := range res.Signals {
		fmt.Fprintf(out, "  signal: %s\n", s)
	}
	return nil
}

//Personal.AI order the ending
