package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one full refresh cycle and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		st, err := p.orchestrator.RunCycle(cmd.Context())
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cycle %s: %s (added %d, dropped %d, resolved %d)\n",
			st.CycleID, st.Outcome, st.Added, st.Dropped, st.Resolved)

		names := make([]string, 0, len(st.Sources))
		for name := range st.Sources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-16s %s\n", name, st.Sources[name])
		}
		for agency, n := range p.orchestrator.Snapshot().CountByAgency() {
			fmt.Fprintf(out, "  %-16s %d stations\n", agency, n)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
