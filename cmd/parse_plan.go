package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/qw4990/pds_replay/plan"
	"github.com/spf13/cobra"
)

type parsePlanCmdOpt struct {
	format   string
	costType string
	estimate bool
}

func NewParsePlanCmd() *cobra.Command {
	var opt parsePlanCmdOpt
	cmd := &cobra.Command{
		Use:   "parse-plan <plan-file>",
		Short: "analyze a saved plan",
		Long:  `analyze a saved EXPLAIN output and print its timing, cost and the structures its scans use`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return ParsePlan(string(data), opt, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opt.format, "plan-format", "xml", "the plan format, 'xml', 'json' or 'tidb' (tab separated rows)")
	cmd.Flags().StringVar(&opt.costType, "cost-type", "elapsed", "the cost to report, 'elapsed', 'execution' or 'subtree'")
	cmd.Flags().BoolVar(&opt.estimate, "estimate", false, "the plan was produced without ANALYZE")
	return cmd
}

// ParsePlan analyzes the plan text and prints the record.
func ParsePlan(text string, opt parsePlanCmdOpt, out io.Writer) error {
	format, err := plan.ParseFormat(opt.format)
	if err != nil {
		return err
	}
	costType, err := plan.ParseCostType(opt.costType)
	if err != nil {
		return err
	}
	doc := plan.Document{Format: format, Text: text}
	if format == plan.FormatTiDBTable {
		doc.Text = ""
		for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			doc.Rows = append(doc.Rows, strings.Split(line, "\t"))
		}
	}

	parse := plan.Parse
	if opt.estimate {
		parse = plan.ParseEstimate
	}
	rec, err := parse(doc)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rec.Format())
	fmt.Fprintf(out, "cost (%v): %.6f\n", costType, rec.Cost(costType))
	fmt.Fprintf(out, "structures used: %v\n", strings.Join(rec.StructuresUsed(), ", "))
	return nil
}
