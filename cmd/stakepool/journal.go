package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/code-payments/stake-pool-server/pkg/database/query"
	"github.com/code-payments/stake-pool-server/pkg/pointer"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
)

var (
	journalCmd = cobra.Command{
		Use:   "journal",
		Short: "List journaled submissions",
		Long: "List journaled submissions, newest first. Only a postgres journal\n" +
			"outlives the process that wrote it.",
		Args: cobra.NoArgs,
		RunE: runJournal,
	}

	journalCycle string
	journalOrder string
	journalLimit uint64
	journalAfter string
)

func init() {
	journalCmd.Flags().StringVar(&journalCycle, "cycle", "", "only list submissions from this cycle")
	journalCmd.Flags().StringVar(&journalOrder, "order", "desc", "asc or desc")
	journalCmd.Flags().Uint64Var(&journalLimit, "limit", 50, "page size")
	journalCmd.Flags().StringVar(&journalAfter, "after", "", "cursor printed by the previous page")
}

func runJournal(c *cobra.Command, _ []string) error {
	opts, err := journalOptions()
	if err != nil {
		return err
	}

	return withEnvironment(c.Context(), func(ctx context.Context, env *environment) error {
		var records []*journal.Record
		if journalCycle != "" {
			records, err = env.journal.GetAllByCycle(ctx, journalCycle)
		} else {
			records, err = env.journal.GetAll(ctx, opts...)
		}
		if errors.Is(err, journal.ErrNotFound) {
			fmt.Fprintln(c.OutOrStdout(), "no submissions")
			return nil
		} else if err != nil {
			return err
		}

		if err := writeRecords(c.OutOrStdout(), records); err != nil {
			return err
		}
		if journalCycle == "" && uint64(len(records)) == journalLimit {
			last := records[len(records)-1]
			fmt.Fprintf(c.ErrOrStderr(), "next page: --after %s\n", query.ToCursor(last.Id))
		}
		return nil
	})
}

func journalOptions() ([]query.Option, error) {
	order, err := query.ParseOrdering(journalOrder)
	if err != nil {
		return nil, err
	}

	opts := []query.Option{
		query.WithDirection(order),
		query.WithLimit(journalLimit),
	}
	if journalAfter != "" {
		cursor, err := query.ParseCursor(journalAfter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, query.WithCursor(cursor))
	}
	return opts, nil
}

func writeRecords(w io.Writer, records []*journal.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tCYCLE\tSTEP\tSTATUS\tIXS\tSIGNATURE\tERROR")
	for _, r := range records {
		status := r.Status.String()
		if r.ProgramCode != nil {
			status = fmt.Sprintf("%s(%d)", status, *r.ProgramCode)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Id,
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.CycleId,
			r.Step,
			status,
			r.Instructions,
			r.Signature,
			pointer.OrDefault(r.Error, "-"),
		)
	}
	return tw.Flush()
}
