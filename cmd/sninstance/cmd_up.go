package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// errInstanceDown makes the process exit 1 without printing an error.
var errInstanceDown = errors.New("instance is down")

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Check whether the instance is up",
	Long: "Prints \"up\" or \"down\". Exits 1 when the instance is down or the\n" +
		"check fails.",
	Args: cobra.NoArgs,
	RunE: runUp,
}

func runUp(cmd *cobra.Command, _ []string) error {
	inst, _, _, err := selectedInstance()
	if err != nil {
		return err
	}
	return reportUp(cmd.Context(), cmd.OutOrStdout(), inst)
}

type upChecker interface {
	IsUp(ctx context.Context) (bool, error)
}

// reportUp prints the liveness result. A failed check prints "down" and
// returns the error.
func reportUp(ctx context.Context, out io.Writer, c upChecker) error {
	up, err := c.IsUp(ctx)
	if err != nil {
		fmt.Fprintln(out, "down")
		return err
	}
	if !up {
		fmt.Fprintln(out, "down")
		return errInstanceDown
	}
	fmt.Fprintln(out, "up")
	return nil
}
