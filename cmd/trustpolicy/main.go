// Command trustpolicy evaluates supply-chain trust policies against an
// analysis snapshot.
//
// Usage:
//
//	trustpolicy verify --facts analysis.json --policy policy.dl [--report report.json] [--vsa vsa.json]
//	trustpolicy prelude
//
// The verify command exits 0 when every applied policy is satisfied, 1 when
// at least one policy failed, and 2 on any error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/meigma/trustpolicy"
	"github.com/meigma/trustpolicy/verdict"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitError carries a non-zero exit status that is not an error condition.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return verdict.ExitPassed
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(stderr, "trustpolicy: %v\n", err)
	return verdict.ExitError
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "trustpolicy",
		Short:         "Evaluate supply-chain trust policies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newVerifyCmd(), newPreludeCmd(), newVersionCmd())
	return root
}

func newPreludeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prelude",
		Short: "Print the extensional schema and built-in rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), trustpolicy.Prelude())
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), trustpolicy.Version())
			return err
		},
	}
}
