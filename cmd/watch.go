package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/monitoring"
	"github.com/sells-group/payops-sentinel/internal/workflow"
)

var watchInteractive bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run cycles for monitoring.threads on an interval and print pending proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("thread") {
			cfg.Monitoring.Threads = []string{threadID}
		}

		env, err := initEnv(ctx, "watch")
		if err != nil {
			return err
		}
		defer env.Close()

		w := cmd.OutOrStdout()
		in := bufio.NewReader(cmd.InOrStdin())
		checker := monitoring.NewChecker(env.Machine, env.Collector, env.Alerter, env.Metrics, cfg.Monitoring)
		checker.OnCycle(func(thread string, res *workflow.CycleResult, err error) {
			if err != nil {
				fmt.Fprintf(w, "[%s] %v\n", thread, err)
				return
			}
			fmt.Fprintf(w, "[%s] cycle %s\n", thread, res.CycleID)
			printCycle(w, res)
			if watchInteractive {
				if err := promptApproval(ctx, in, w, env.Machine, res); err != nil {
					fmt.Fprintf(w, "[%s] %v\n", thread, err)
				}
			}
		})
		checker.Run(ctx)
		return nil
	},
}

type resumer interface {
	Resume(ctx context.Context, threadID string, approved bool) (*workflow.ApprovalResult, error)
}

// promptApproval asks on in whether to apply the pending proposal of res.
// "y" approves, "n" rejects and anything else leaves the proposal pending.
func promptApproval(ctx context.Context, in *bufio.Reader, w io.Writer, m resumer, res *workflow.CycleResult) error {
	if res == nil || res.Stage != model.StageAwaitingApproval || res.Proposal == nil {
		return nil
	}
	fmt.Fprintf(w, "apply %s to %s? [y/n, enter to skip]: ", res.Proposal, res.ThreadID)

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(w)
		return nil
	}

	var approved bool
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		approved = true
	case "n", "no":
	default:
		fmt.Fprintln(w, "left pending")
		return nil
	}

	out, err := m.Resume(ctx, res.ThreadID, approved)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "status: %s\n", out.Status)
	printLogs(w, out.Logs)
	return nil
}

func init() {
	watchCmd.Flags().BoolVar(&watchInteractive, "interactive", false, "prompt on stdin to approve or reject each pending proposal")
	rootCmd.AddCommand(watchCmd)
}
