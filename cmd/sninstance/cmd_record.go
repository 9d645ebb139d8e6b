package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RaikaSurendra/servicenow-instance/internal/servicenow"
)

var recordCmd = &cobra.Command{
	Use:   "record TABLE SYS_ID",
	Short: "Print one record as JSON",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecord,
}

func runRecord(cmd *cobra.Command, args []string) error {
	inst, _, _, err := selectedInstance()
	if err != nil {
		return err
	}
	rec, err := inst.GetRecord(cmd.Context(), args[0], args[1])
	if err != nil {
		if servicenow.IsNotFound(err) {
			return fmt.Errorf("record %s/%s not found: %w", args[0], args[1], err)
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), rec)
}

var queryFlags struct {
	query  string
	limit  int
	fields []string
	since  time.Duration
	order  string
}

var queryCmd = &cobra.Command{
	Use:   "query TABLE",
	Short: "Run one Table API query and print the records as JSON",
	Long: "Runs a single Table API request. There is no pagination: narrow the\n" +
		"query or raise --limit to see more rows.",
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.StringVarP(&queryFlags.query, "query", "q", "", "Encoded query, e.g. active=true^priority=1")
	f.IntVarP(&queryFlags.limit, "limit", "n", 10, "Maximum number of records")
	f.StringSliceVar(&queryFlags.fields, "fields", nil, "Fields to return (comma separated)")
	f.DurationVar(&queryFlags.since, "since", 0, "Only records updated within this duration, e.g. 24h")
	f.StringVar(&queryFlags.order, "order-by", "", "Order by this field; prefix with - for descending")
}

func runQuery(cmd *cobra.Command, args []string) error {
	inst, _, _, err := selectedInstance()
	if err != nil {
		return err
	}
	q := buildQuery(queryFlags.query, queryFlags.since, queryFlags.order, time.Now())
	recs, err := inst.QueryRecords(cmd.Context(), args[0], q, queryFlags.limit, queryFlags.fields)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), recs)
}

// buildQuery combines the query flags into one encoded query.
func buildQuery(encoded string, since time.Duration, order string, now time.Time) *servicenow.QueryBuilder {
	q := servicenow.ParseQuery(encoded)
	if since > 0 {
		q.WhereUpdatedSince("sys_updated_on", now.Add(-since))
	}
	switch {
	case order == "":
	case order[0] == '-':
		q.OrderByDesc(order[1:])
	default:
		q.OrderByAsc(order)
	}
	return q
}
