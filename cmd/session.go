package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/workflow"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one observe, reason and decide cycle for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cycle")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Machine.RunCycle(cmd.Context(), threadID)
		if err != nil {
			return err
		}
		printCycle(cmd.OutOrStdout(), res)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the status and pending proposal of a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cycle")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Machine.GetState(cmd.Context(), threadID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var approveReject bool

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve (or --reject) the pending proposal of a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cycle")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Machine.Resume(cmd.Context(), threadID, !approveReject)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "status: %s\n", res.Status)
		printLogs(w, res.Logs)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a session and its reasoning log",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cycle")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Machine.Clear(cmd.Context(), threadID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared session %s\n", threadID)
		return nil
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the current routing table",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cycle")
		if err != nil {
			return err
		}
		defer env.Close()

		table, err := env.Routes.Table(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), table)
	},
}

func printCycle(w io.Writer, res *workflow.CycleResult) {
	printLogs(w, res.Logs)
	switch {
	case res.NoData:
		fmt.Fprintln(w, "no data yet")
	case res.Stage == model.StageAwaitingApproval && res.Proposal != nil:
		fmt.Fprintf(w, "pending approval: %s (run `approve --thread %s`)\n", res.Proposal, res.ThreadID)
	}
}

func printLogs(w io.Writer, logs []model.LogEntry) {
	for _, e := range logs {
		fmt.Fprintln(w, e.String())
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	approveCmd.Flags().BoolVar(&approveReject, "reject", false, "reject the proposal instead of approving it")
	rootCmd.AddCommand(cycleCmd, stateCmd, approveCmd, clearCmd, routesCmd)
}
