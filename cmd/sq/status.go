package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database health and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.Health.Check(ctx)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sq %s\n", Version)
	fmt.Fprintf(out, "Database:  %s (%s, %dms) %s\n", st.State, a.Config.Database.Driver, st.LatencyMS, st.Detail)
	fmt.Fprintf(out, "Transport: %s\n", a.Config.Transport.Driver)
	fmt.Fprintf(out, "Alerts:    %s\n", alertTargets(a.Config.Notify.SlackWebhookURL != "", a.Config.Notify.DiscordBotToken != ""))
	fmt.Fprintln(out)
	printQueueStats(cmd, a.Queue.Stats())
	return nil
}

func alertTargets(slack, discord bool) string {
	switch {
	case slack && discord:
		return "slack, discord"
	case slack:
		return "slack"
	case discord:
		return "discord"
	}
	return "none"
}
