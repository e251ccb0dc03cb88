package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/stylequeue/internal/conversation"
	"github.com/zulandar/stylequeue/internal/models"
)

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Conversation management commands",
	}

	cmd.AddCommand(newConversationCreateCmd())
	cmd.AddCommand(newConversationShowCmd())
	cmd.AddCommand(newConversationListCmd())
	return cmd
}

func newConversationCreateCmd() *cobra.Command {
	var (
		configPath string
		opts       conversation.CreateOpts
		priority   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending conversation",
		Long:  "Creates a conversation in pending status and adds it to the queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if priority != "" {
				p, err := models.ParsePriority(priority)
				if err != nil {
					return err
				}
				opts.Priority = p
			}
			return runConversationCreate(cmd, configPath, opts)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.RequesterID, "requester", "", "requesting customer ID (required)")
	cmd.Flags().StringVar(&opts.RequesterEmail, "email", "", "address replies are sent to")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "conversation subject (required)")
	cmd.Flags().StringVar(&priority, "priority", "normal", "priority (low, normal, high, urgent)")
	cmd.MarkFlagRequired("requester")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func runConversationCreate(cmd *cobra.Command, configPath string, opts conversation.CreateOpts) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.Queue.Intake(ctx, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created conversation %s\n", c.ID)
	fmt.Fprintf(out, "Priority: %s\n", c.Priority)
	return nil
}

func newConversationShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show conversation details",
		Long:  "Displays a conversation's state, claim, escalation history and drafts.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversationShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runConversationShow(cmd *cobra.Command, configPath, id string) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	drafts, err := a.Drafts.ForConversation(ctx, id)
	if err != nil {
		return err
	}

	pal := newPalette(isTerminal(cmd))
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Conversation: %s\n", c.ID)
	fmt.Fprintf(out, "Subject:      %s\n", c.Subject)
	fmt.Fprintf(out, "Requester:    %s\n", c.RequesterID)
	if c.RequesterEmail != "" {
		fmt.Fprintf(out, "Email:        %s\n", c.RequesterEmail)
	}
	fmt.Fprintf(out, "Status:       %s\n", pal.status(c.Status))
	fmt.Fprintf(out, "Priority:     %s\n", pal.priority(c.Priority))
	fmt.Fprintf(out, "Created:      %s\n", c.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Last reply:   %s\n", c.LastUserReplyAt.Format(time.RFC3339))
	if c.ClaimedBy != "" {
		fmt.Fprintf(out, "Claimed by:   %s", c.ClaimedBy)
		if c.ClaimedAt != nil {
			fmt.Fprintf(out, " at %s", c.ClaimedAt.Format(time.RFC3339))
		}
		fmt.Fprintln(out)
	}
	if c.EscalationCount > 0 {
		fmt.Fprintf(out, "Escalations:  %d\n", c.EscalationCount)
	}
	if c.CompletedBy != "" {
		fmt.Fprintf(out, "Completed by: %s\n", c.CompletedBy)
	}

	if len(drafts) > 0 {
		fmt.Fprintf(out, "\nDrafts (%d):\n", len(drafts))
		for _, d := range drafts {
			fmt.Fprintf(out, "  %s  %s  %d module(s)  %s\n", d.ID, d.Status, len(d.Modules), truncate(d.SubjectLine, 50))
		}
	}
	return nil
}

func newConversationListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		priority   string
		claimedBy  string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Long:  "Lists conversations, newest first, with optional filters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := conversation.ListFilters{
				Status:    models.Status(status),
				ClaimedBy: claimedBy,
				Limit:     limit,
			}
			if priority != "" {
				p, err := models.ParsePriority(priority)
				if err != nil {
					return err
				}
				f.Priority = p
			}
			return runConversationList(cmd, configPath, f)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	cmd.Flags().StringVar(&claimedBy, "claimed-by", "", "filter by claiming stylist")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func runConversationList(cmd *cobra.Command, configPath string, f conversation.ListFilters) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.Store.List(ctx, f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No conversations found.")
		return nil
	}

	pal := newPalette(isTerminal(cmd))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tSTATUS\tPRI\tCLAIMED BY\tCREATED")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, truncate(c.Subject, 40), pal.status(c.Status), pal.priority(c.Priority),
			orDash(c.ClaimedBy), c.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}
