package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stylii-be/pkg/client"
	"stylii-be/pkg/design"
)

type designOptions struct {
	images     []string
	styles     []string
	budget     int
	categories []string
	notes      string
	server     string
	out        string
	timeout    time.Duration
}

func newDesignCmd() *cobra.Command {
	opts := &designOptions{}
	cmd := &cobra.Command{
		Use:   "design",
		Short: "Generate recommendations and a composite for a room photo",
		Example: `  stylii design --image living-room.jpg --style modern --category furniture --category lighting
  stylii design --image room.png --style modern --style industrial --budget 8000 --out render.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDesign(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.images, "image", nil, "room photo path, repeatable (max 4)")
	f.StringSliceVar(&opts.styles, "style", nil, "design style, repeatable to compare styles")
	f.IntVar(&opts.budget, "budget", design.DefaultBudget, "total budget in dollars")
	f.StringSliceVar(&opts.categories, "category", nil, "product category, repeatable")
	f.StringVar(&opts.notes, "notes", "", "free-form notes for the designer")
	f.StringVar(&opts.server, "server", "http://localhost:8000", "backend base URL")
	f.StringVar(&opts.out, "out", "", "write the last composite to this file")
	f.DurationVar(&opts.timeout, "timeout", 3*time.Minute, "per-request timeout")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("style")

	return cmd
}

func runDesign(parent context.Context, opts *designOptions) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	store := design.NewStore(nil)
	for _, path := range opts.images {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		blob, err := design.NewBlob("", data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := store.AddImage(blob); err != nil {
			return err
		}
	}
	if err := store.SetBudget(opts.budget); err != nil {
		return err
	}
	if err := store.SetNotes(opts.notes); err != nil {
		return err
	}
	categories := make([]design.Category, 0, len(opts.categories))
	for _, c := range opts.categories {
		categories = append(categories, design.Category(c))
	}
	if err := store.SetSelectedCategories(categories); err != nil {
		return err
	}
	if !store.ReadyToSubmit() {
		color.Yellow("Heads up: pick at least one --category for focused recommendations")
	}

	api := client.New(opts.server, opts.timeout)
	orchestrator := design.NewOrchestrator(store, api, api, design.OrchestratorOptions{
		DegradedDelay: design.DefaultDegradedDelay,
	})

	for _, style := range opts.styles {
		color.Cyan("\n🎨 Generating %s design (budget $%d)", style, opts.budget)
		outcome, err := orchestrator.Generate(ctx, design.Style(style))
		if err != nil {
			return err
		}
		printOutcome(outcome)
	}

	if opts.out == "" {
		return nil
	}
	composite := store.Composite()
	if composite == nil {
		color.Yellow("\nNo composite was produced, nothing written to %s", opts.out)
		return nil
	}
	if err := os.WriteFile(opts.out, composite.Data, 0o644); err != nil {
		return fmt.Errorf("write composite: %w", err)
	}
	color.Green("\nComposite saved to %s (%s, %d bytes)", opts.out, composite.ContentType, len(composite.Data))
	return nil
}

func printOutcome(o *design.Outcome) {
	switch o.State {
	case design.OutcomeCacheHit:
		color.Green("Served from cache")
	case design.OutcomeDegraded:
		color.Red("Recommendations unavailable: %v", o.Err)
	default:
		color.Green("Done in %s", o.Latency.Round(time.Millisecond))
	}

	for _, q := range o.Queries {
		fmt.Printf("  🔎 %s\n", q)
	}
	total := 0.0
	for i, p := range o.Products {
		price := "n/a"
		if p.Price != nil {
			price = *p.Price
		}
		if p.ExtractedPrice != nil {
			total += *p.ExtractedPrice
		}
		fmt.Printf("  %d. %s %s\n", i+1, p.Title, color.HiBlackString("(%s)", price))
		fmt.Printf("     %s\n", color.BlueString(p.Link))
	}
	if len(o.Products) > 0 {
		fmt.Printf("  Total: $%.2f\n", total)
	}

	switch o.Composite {
	case design.CompositeCreated:
		color.Green("Composite: rendered")
	case design.CompositeRateLimited:
		color.Yellow("Composite: rate limited, try again later")
	case design.CompositeFailed:
		color.Yellow("Composite: failed (%v), placeholder shown", o.Err)
	default:
		fmt.Printf("Composite: %s\n", o.Composite)
	}
}
