package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/qw4990/pds_replay/design"
	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/workload"
	"github.com/spf13/cobra"
)

func NewPreCheckCmd() *cobra.Command {
	var opt experimentCmdOpt
	cmd := &cobra.Command{
		Use:   "precheck",
		Short: "check whether the database is ready for an experiment",
		Long:  `check the connectivity, the hypothetical index support and the structures of the design file before running an experiment`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opt.load()
			if err != nil {
				return err
			}
			_, arms, err := conf.LoadWorkload()
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
			return PreCheck(cmd.Context(), db, conf.Schema, arms, cmd.OutOrStdout())
		},
	}

	opt.addFlags(cmd)
	return cmd
}

// PreCheck reports the state of the database and fails if any arm cannot be created.
func PreCheck(ctx context.Context, db optimizer.DB, schema string, arms []*workload.Arm, out io.Writer) error {
	m := design.NewManager(db, schema)
	fmt.Fprintf(out, "database: %v, schema: %v\n", db.Dialect().Name(), schema)

	hypoArms := 0
	for _, arm := range arms {
		if arm.Kind == workload.ArmHypothetical {
			hypoArms++
		}
	}
	if m.HypotheticalSupported(ctx) {
		printColored(out, okColor, "hypothetical indexes: supported\n")
	} else if hypoArms > 0 {
		printColored(out, errColor, "hypothetical indexes: not supported, %d hypothetical arms will be ignored\n", hypoArms)
	} else {
		fmt.Fprintf(out, "hypothetical indexes: not supported\n")
	}

	size, err := m.CurrentPDSSize(ctx)
	if err != nil {
		if optimizer.IsConnectionError(err) {
			return err
		}
		fmt.Fprintf(out, "current secondary structures: unknown (%v)\n", err)
	} else {
		fmt.Fprintf(out, "current secondary structures: %.2fMB\n", size)
	}

	if err := m.ValidateArms(ctx, arms); err != nil {
		if optimizer.IsConnectionError(err) {
			return err
		}
		printColored(out, errColor, "design: invalid\n")
		return errors.Join(errors.New("some arms of the design cannot be created"), err)
	}
	estimated := 0.0
	for _, arm := range arms {
		if arm.Kind != workload.ArmIndex {
			continue
		}
		mb, err := m.EstimateSize(ctx, arm)
		if err != nil {
			return err
		}
		estimated += mb
	}
	printColored(out, okColor, "design: %d arms, about %.2fMB of indexes on tables\n", len(arms), estimated)
	return nil
}
