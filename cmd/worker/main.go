package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/trackwatch/trackwatch/internal/setup"
	"github.com/trackwatch/trackwatch/pkg/utils"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "worker",
		Usage: "Run trackwatch background phases",
		Commands: []*cli.Command{
			{
				Name:  "crawl",
				Usage: "Start a crawl job for one author",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "username",
						Aliases:  []string{"u"},
						Usage:    "Author username to crawl",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "period",
						Aliases: []string{"p"},
						Value:   "daily",
						Usage:   "Trailing window (daily, weekly, monthly or a duration)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(ctx, func(ctx context.Context, app *setup.App) error {
						jobID, err := app.CrawlService.StartCrawl(ctx, c.String("username"), c.String("period"))
						if err != nil {
							return err
						}

						app.Logger.Info("Crawl started", zap.String("jobID", jobID))

						// The crawl runs out of band; poll until it reaches a
						// terminal state so the one-shot command can report it
						for {
							job, err := app.CrawlService.GetJob(ctx, jobID)
							if err != nil {
								return err
							}

							if job.Status.IsTerminal() {
								fmt.Printf("job %s: %s\n", job.JobID, job.Status)
								return nil
							}

							if utils.ContextSleep(ctx, time.Second) == utils.SleepCancelled {
								return ctx.Err()
							}
						}
					})
				},
			},
			{
				Name:  "drain",
				Usage: "Process queued crawl jobs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 10,
						Usage: "Maximum jobs to process",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(ctx, func(ctx context.Context, app *setup.App) error {
						processed, err := app.CrawlRunner.Drain(ctx, int(c.Int("limit")))
						if err != nil {
							return err
						}

						fmt.Printf("processed %d jobs\n", processed)

						return nil
					})
				},
			},
			{
				Name:  "notify",
				Usage: "Run both notification phases for every subscriber",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return withApp(ctx, func(ctx context.Context, app *setup.App) error {
						return app.Orchestrator.RunAll(ctx)
					})
				},
			},
			{
				Name:  "history",
				Usage: "Show recent notification history for one user",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "username",
						Aliases:  []string{"u"},
						Usage:    "Username to look up",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum entries to show",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(ctx, func(ctx context.Context, app *setup.App) error {
						entries, err := app.DB.Model().History().GetRecent(
							ctx, c.String("username"), int(c.Int("limit")),
						)
						if err != nil {
							return err
						}

						for _, entry := range entries {
							fmt.Printf("%s  %-15s %s\n",
								entry.CreatedAt.Format(time.RFC3339), entry.Kind, entry.Detail)
						}

						return nil
					})
				},
			},
			{
				Name:  "send",
				Usage: "Send today's pending outbox rows",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return withApp(ctx, func(ctx context.Context, app *setup.App) error {
						result, err := app.Sender.RunSendPhase(ctx)
						if err != nil {
							return err
						}

						fmt.Printf("sent %d, skipped %d\n", result.Sent, result.Skipped)

						return nil
					})
				},
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

// withApp initializes the application bundle for one command run and tears it
// down afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, app *setup.App) error) error {
	app, err := setup.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	return fn(ctx, app)
}
