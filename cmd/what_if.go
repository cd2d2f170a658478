package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/qw4990/pds_replay/design"
	"github.com/qw4990/pds_replay/experiment"
	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/workload"
	"github.com/spf13/cobra"
)

func NewWhatIfCmd() *cobra.Command {
	var opt experimentCmdOpt
	cmd := &cobra.Command{
		Use:   "what-if",
		Short: "estimate the workload cost under every config window without building anything",
		Long:  `create the arms of every config window of the schedule as hypothetical indexes, explain every query and report the estimated workload cost`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opt.load()
			if err != nil {
				return err
			}
			queries, arms, err := conf.LoadWorkload()
			if err != nil {
				return err
			}
			open, err := optimizer.NewOpener(conf.Driver, conf.DSN, conf.Format())
			if err != nil {
				return err
			}
			db, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			_, err = WhatIf(cmd.Context(), db, conf.Schema, conf.Schedule, queries, arms, cmd.OutOrStdout())
			return err
		},
	}

	opt.addFlags(cmd)
	return cmd
}

// WhatIf estimates the cost of the queries under no structures and under every config window of s.
// Without config shifts all arms form one config.
func WhatIf(ctx context.Context, db optimizer.DB, schema string, s experiment.Schedule,
	queries []*workload.Query, arms []*workload.Arm, out io.Writer) ([]design.ConfigCost, error) {
	configs := [][]*workload.Arm{nil}
	if len(s.ConfigShifts) == 0 {
		configs = append(configs, arms)
	}
	for i := range s.ConfigShifts {
		if s.ConfigStart[i] < 0 || s.ConfigEnd[i] > len(arms) || s.ConfigStart[i] > s.ConfigEnd[i] {
			return nil, fmt.Errorf("config window [%d, %d) out of range [0, %d)", s.ConfigStart[i], s.ConfigEnd[i], len(arms))
		}
		configs = append(configs, arms[s.ConfigStart[i]:s.ConfigEnd[i]])
	}

	e := design.NewEvaluator(design.NewManager(db, schema))
	costs := make([]design.ConfigCost, 0, len(configs))
	for _, c := range configs {
		cost, err := e.Evaluate(ctx, c, queries)
		if err != nil {
			return costs, err
		}
		costs = append(costs, cost)
		fmt.Fprintln(out, cost.Format())
		ids := make([]string, 0, len(cost.QueryCosts))
		for id := range cost.QueryCosts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(out, "  %v: %.2f\n", id, cost.QueryCosts[id])
		}
	}
	return costs, nil
}
