package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/allotment-engine/allot"
	"github.com/warp/allotment-engine/engine"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	Items  string
	Ledger string
	Now    string
	Zone   string
}

// NewInspectCommand recomputes derived state from files on disk without a
// running server. Useful for debugging exported data.
func NewInspectCommand(root *RootOptions) *cobra.Command {
	opts := &InspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Derive allotment state from item and ledger files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Items, "items", "", "path to the items JSON payload (required)")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to the JSONL ledger file")
	cmd.Flags().StringVar(&opts.Now, "now", "", "reference instant in RFC3339, defaults to the current time")
	cmd.Flags().StringVar(&opts.Zone, "zone", "", "IANA timezone name, defaults to the local zone")
	_ = cmd.MarkFlagRequired("items")
	return cmd
}

func runInspect(cmd *cobra.Command, root *RootOptions, opts *InspectOptions) error {
	loc := time.Local
	if opts.Zone != "" {
		var err error
		loc, err = time.LoadLocation(opts.Zone)
		if err != nil {
			return fmt.Errorf("unknown timezone %q: %w", opts.Zone, err)
		}
	}

	now := time.Now()
	if opts.Now != "" {
		var err error
		now, err = time.Parse(time.RFC3339, opts.Now)
		if err != nil {
			return fmt.Errorf("invalid --now value %q: %w", opts.Now, err)
		}
	}

	raw, err := os.ReadFile(opts.Items)
	if err != nil {
		return err
	}
	doc, err := allot.UnwrapItemsPayload(raw)
	if err != nil {
		return err
	}

	var ledger []engine.LedgerEvent
	if opts.Ledger != "" {
		text, err := os.ReadFile(opts.Ledger)
		if err != nil {
			return err
		}
		events, lineErrs := engine.ParseJSONL(string(text))
		for _, le := range lineErrs {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", le)
		}
		ledger = events
	}

	state := &engine.AllocationState{
		Year:   doc.Year,
		Items:  doc.Items,
		Ledger: ledger,
	}
	engine.RecomputeDerived(state, now, loc)

	if root.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}
	printState(cmd, state)
	return nil
}

func printState(cmd *cobra.Command, state *engine.AllocationState) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Year: %d\n\n", state.Year)

	fmt.Fprintf(out, "Available (%d):\n", len(state.Available))
	for _, e := range state.Available {
		fmt.Fprintf(out, "  %-24s %d of %d left, resets %s\n",
			e.Type, e.Remaining, e.Total, state.Stats.NextReset[e.Type])
	}

	fmt.Fprintf(out, "\nComing up (%d):\n", len(state.ComingUp))
	for _, e := range state.ComingUp {
		fmt.Fprintf(out, "  %-24s in %d day(s), %d available then\n",
			e.Type, e.DaysUntil, e.QuotaAvailable)
	}

	fmt.Fprintf(out, "\nUnavailable (%d):\n", len(state.Unavailable))
	for _, e := range state.Unavailable {
		fmt.Fprintf(out, "  %-24s last %s, %d this year\n",
			e.Type, e.LastRedeemed, e.CountThisYear)
	}
}
