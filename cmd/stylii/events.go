package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stylii-be/pkg/events"
	pktNats "stylii-be/pkg/nats"
)

func newEventsCmd() *cobra.Command {
	var (
		natsURL string
		subject string
		durable string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail design events from NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub, err := pktNats.NewSubscriber(natsURL)
			if err != nil {
				return err
			}
			defer sub.Close()

			if err := sub.Subscribe(ctx, subject, durable, printEvent); err != nil {
				return err
			}
			color.Cyan("Listening on %s, Ctrl+C to stop", subject)
			<-ctx.Done()
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&natsURL, "nats", "nats://localhost:4222", "NATS server URL")
	f.StringVar(&subject, "subject", pktNats.StreamSubject, "subject filter")
	f.StringVar(&durable, "durable", "", "durable consumer name; empty tails new events only")

	return cmd
}

func printEvent(_ context.Context, e events.Event) error {
	paint := color.New(color.FgGreen).SprintFunc()
	switch e.EventType() {
	case events.GenerationDegraded, events.VisualizationRateLimited:
		paint = color.New(color.FgYellow).SprintFunc()
	case events.SessionClosed:
		paint = color.New(color.FgHiBlack).SprintFunc()
	}

	fmt.Printf("%s %s %s", e.Timestamp().Format("15:04:05"), paint(e.EventType()), e.SessionID())

	data := e.Payload()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf(" %s=%v", k, data[k])
	}
	fmt.Println()
	return nil
}
