package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/qw4990/pds_replay/design"
	"github.com/qw4990/pds_replay/optimizer"
	"github.com/spf13/cobra"
)

func NewCleanupCmd() *cobra.Command {
	var opt connCmdOpt
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "drop all secondary indexes of a schema",
		Long:  `drop every index of the schema that does not back a primary key or unique constraint, e.g. after an interrupted experiment`,
		RunE: func(cmd *cobra.Command, args []string) error {
			open, err := opt.opener()
			if err != nil {
				return err
			}
			return Cleanup(cmd.Context(), open, opt.schema, cmd.OutOrStdout())
		},
	}

	opt.addFlags(cmd)
	return cmd
}

// Cleanup drops all secondary indexes of the schema on a new connection.
func Cleanup(ctx context.Context, open optimizer.Opener, schema string, out io.Writer) error {
	db, err := open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	n, err := design.NewManager(db, schema).RemoveAllNonClustered(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "dropped %d secondary indexes from %v\n", n, schema)
	return nil
}
