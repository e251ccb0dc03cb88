package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/stylequeue/internal/models"
	"github.com/zulandar/stylequeue/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Pending queue commands",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueClaimCmd())
	cmd.AddCommand(newQueueReleaseCmd())
	cmd.AddCommand(newQueueRetriageCmd())
	cmd.AddCommand(newQueueStatsCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	var (
		configPath  string
		minPriority string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending conversations in queue order",
		Long:  "Lists pending conversations by priority, then oldest first. Urgent rows are highlighted on a terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var f queue.Filter
			if minPriority != "" {
				p, err := models.ParsePriority(minPriority)
				if err != nil {
					return err
				}
				f.MinPriority = p
			}
			return runQueueList(cmd, configPath, f)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&minPriority, "min-priority", "", "only show this priority and above")
	return cmd
}

func runQueueList(cmd *cobra.Command, configPath string, f queue.Filter) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	entries := a.Queue.Snapshot(ctx, f)
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}

	pal := newPalette(isTerminal(cmd))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tPRI\tWAIT\tSUBJECT\tREQUESTER\tCONTEXT")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, e.ID, pal.priority(e.Priority), formatWait(e.Wait),
			truncate(e.Subject, 40), e.RequesterID, describeContext(e.ContextSummary))
	}
	w.Flush()
	return nil
}

func newQueueClaimCmd() *cobra.Command {
	var (
		configPath string
		stylist    string
	)

	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a pending conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueClaim(cmd, configPath, args[0], stylist)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&stylist, "stylist", "", "claiming stylist ID (required)")
	cmd.MarkFlagRequired("stylist")
	return cmd
}

func runQueueClaim(cmd *cobra.Command, configPath, id, stylist string) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	opCtx, cancel := context.WithTimeout(ctx, a.Config.Server.OperationTimeout)
	defer cancel()
	c, err := a.Queue.Claim(opCtx, id, stylist)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Claimed %s for %s (%s)\n", c.ID, stylist, c.Priority)
	return nil
}

func newQueueReleaseCmd() *cobra.Command {
	var (
		configPath string
		stylist    string
	)

	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release a claim back to the queue",
		Long:  "Returns a conversation held by the stylist to pending. Its original place in the queue is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueRelease(cmd, configPath, args[0], stylist)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&stylist, "stylist", "", "stylist holding the claim (required)")
	cmd.MarkFlagRequired("stylist")
	return cmd
}

func runQueueRelease(cmd *cobra.Command, configPath, id, stylist string) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	opCtx, cancel := context.WithTimeout(ctx, a.Config.Server.OperationTimeout)
	defer cancel()
	c, err := a.Queue.Release(opCtx, id, stylist, queue.ReasonStylistRelease)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Released %s (now %s)\n", c.ID, c.Status)
	return nil
}

func newQueueRetriageCmd() *cobra.Command {
	var (
		configPath string
		role       string
	)

	cmd := &cobra.Command{
		Use:   "retriage <id>",
		Short: "Return an escalated conversation to the queue one tier up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueRetriage(cmd, configPath, args[0], models.Role(role))
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&role, "role", string(models.RoleSeniorStylist), "caller role (senior_stylist or admin may re-triage)")
	return cmd
}

func runQueueRetriage(cmd *cobra.Command, configPath, id string, role models.Role) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.Queue.Retriage(ctx, id, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Re-triaged %s to %s\n", c.ID, c.Priority)
	return nil
}

func newQueueStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pending queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueStats(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runQueueStats(cmd *cobra.Command, configPath string) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	printQueueStats(cmd, a.Queue.Stats())
	return nil
}

func printQueueStats(cmd *cobra.Command, st queue.Stats) {
	pal := newPalette(isTerminal(cmd))
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pending:   %d\n", st.Pending)
	fmt.Fprintf(out, "Urgent:    %d\n", st.Urgent)
	fmt.Fprintf(out, "Avg wait:  %.1fm\n", st.AvgWaitMinutes)
	for i := len(models.Priorities) - 1; i >= 0; i-- {
		p := models.Priorities[i]
		fmt.Fprintf(out, "  %-8s %d\n", pal.priority(p), st.ByPriority[p])
	}
}
