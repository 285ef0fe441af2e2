package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/petercort/RunWatch-sub000/config"
	"github.com/petercort/RunWatch-sub000/db"
	"github.com/petercort/RunWatch-sub000/forge"
	"github.com/petercort/RunWatch-sub000/log"
	"github.com/petercort/RunWatch-sub000/models"
	"github.com/petercort/RunWatch-sub000/notifier"
	"github.com/petercort/RunWatch-sub000/reconcile"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:   "sync",
		Usage:  "crawl an organization's workflow history into the local store",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "org",
				Usage: "organization to crawl (overrides RUNWATCH_SYNC_ORGANIZATION)",
			},
			&cli.IntFlag{
				Name:  "max-runs",
				Usage: "per-workflow run cap (overrides RUNWATCH_SYNC_MAX_RUNS_PER_WORKFLOW)",
			},
		},
		Description: `
Environment variables:
	RUNWATCH_FORGE_TOKEN                    (required)
	RUNWATCH_FORGE_API_BASE                 (default: https://api.github.com)
	RUNWATCH_SERVER_DB_PATH                 (default: runwatch.db)
	RUNWATCH_SYNC_ORGANIZATION
	RUNWATCH_SYNC_PAGE_SIZE                 (default: 50)
	RUNWATCH_SYNC_MAX_RUNS_PER_WORKFLOW     (default: 100)
`,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	org := cfg.Sync.Organization
	if cmd.String("org") != "" {
		org = cmd.String("org")
	}
	if org == "" {
		return fmt.Errorf("no organization given: pass --org or set RUNWATCH_SYNC_ORGANIZATION")
	}

	maxRuns := cfg.Sync.MaxRunsPerWorkflow
	if cmd.Int("max-runs") > 0 {
		maxRuns = int(cmd.Int("max-runs"))
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	client, err := forge.NewHTTPClient(cfg.Forge.APIBase, cfg.Forge.Token)
	if err != nil {
		return fmt.Errorf("failed to setup forge client: %w", err)
	}

	n := notifier.New()
	rec := reconcile.New(d, n, log.SubLogger(logger, "reconcile"))
	tracker := NewTracker(d, n, log.SubLogger(logger, "tracker"))
	gov := NewGovernor(client, tracker, log.SubLogger(logger, "governor"))
	engine := NewEngine(client, tracker, rec, gov, logger, cfg.Sync.PageSize)

	result, err := engine.Run(ctx, org, models.SyncConfig{MaxRunsPerWorkflow: maxRuns})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
