package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sdcampaign/campaign"
	"sdcampaign/core"
	"sdcampaign/db"
	"sdcampaign/imagegen/sd"
	"sdcampaign/logging"
	"sdcampaign/shutdown"
)

// Cleanup order at the end of a run.
const (
	priorityHistoryFlush = 10
	priorityHistoryClose = 30
	priorityLoggerSync   = 90
)

// runCampaign is the root command: resolve, generate, report.
func (a *app) runCampaign(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := validateNames(args); err != nil {
		return err
	}
	if err := validateNames(cfg.Categories); err != nil {
		return fmt.Errorf("CATEGORIES: %w", err)
	}

	logger, err := a.newLogger(cfg)
	if err != nil {
		return err
	}

	manager := shutdown.NewManager(logger, shutdown.WithParent(cmd.Context()))
	manager.Register("logger", priorityLoggerSync, func(ctx context.Context) error {
		_ = logger.Sync() // stderr cannot always be synced
		return nil
	})
	manager.Start()
	ctx := manager.Context()

	client := sd.NewClient(sd.ClientConfig{
		BaseURL:   cfg.ServerURL,
		Timeout:   cfg.Timeout,
		ProbePath: cfg.ProbePath,
	}, logger)
	if !a.noWait {
		client.WaitReady(ctx, cfg.ProbeInterval, cfg.ProbeMaxWait)
	}

	defaults := campaign.DefaultParameters()
	defaults.ImagesCount = cfg.DefaultImagesPerCategory
	resolver := campaign.NewResolver(campaign.ResolverConfig{
		ConfigDir:     cfg.ConfigDir,
		BaseOutputDir: cfg.OutputBaseDir,
	}, defaults, logger)

	executor := campaign.NewExecutor(client, campaign.ExecutorConfig{
		MaxAttempts: cfg.MaxRetries,
		BackoffUnit: cfg.RetryBackoff,
	}, logger)

	driver := campaign.NewDriver(resolver, executor, campaign.DriverConfig{
		MaxConsecutiveFailures: cfg.ConsecutiveFailures,
		PromptRetries:          cfg.PromptRetryLimit,
		RequestInterval:        cfg.RequestInterval,
		RandomSeed:             cfg.RandomSeed,
	}, logger)

	if repo := openHistory(ctx, cfg, logger, manager); repo != nil {
		driver.SetRecorder(repo)
	}

	names := selectCategories(args, cfg, resolver, logger)
	progress := driver.Run(ctx, names)
	campaign.PrintReport(a.stdout, progress)

	if err := manager.Shutdown(); err != nil {
		fmt.Fprintln(a.stderr, "Warning:", err)
	}
	a.exitCode = manager.ExitCode()
	return nil
}

// openHistory opens the history database and registers its cleanup. Any
// failure disables history for this run.
func openHistory(ctx context.Context, cfg *core.Config, logger *logging.Logger, manager *shutdown.Manager) *db.Repository {
	if !cfg.HistoryEnabled() {
		logger.Debug("run history disabled")
		return nil
	}

	history, err := db.Open(cfg.HistoryDB)
	if err != nil {
		logger.Warn("history database unavailable, continuing without history",
			zap.String("path", cfg.HistoryDB),
			zap.Error(err))
		return nil
	}

	if cfg.HistoryRetentionDays > 0 {
		result, err := history.Cleanup(ctx, cfg.HistoryRetentionDays)
		if err != nil {
			logger.Warn("history cleanup failed", zap.Error(err))
		} else if result.RunsDeleted > 0 {
			logger.Info("pruned old runs",
				zap.Int64("runs", result.RunsDeleted),
				zap.Int64("images", result.ImagesDeleted),
				zap.Int("retention_days", cfg.HistoryRetentionDays))
		}
	}

	repo := db.NewRepository(history, logger)
	repo.EnableAsync(db.DefaultAsyncWriterConfig())

	manager.Register("history-flush", priorityHistoryFlush, func(ctx context.Context) error {
		repo.Flush()
		return nil
	})
	manager.Register("history-close", priorityHistoryClose, func(ctx context.Context) error {
		return history.Close()
	})
	return repo
}

// selectCategories picks the category list: arguments, then CATEGORIES,
// then discovered documents, then the built-in list.
func selectCategories(args []string, cfg *core.Config, resolver *campaign.Resolver, logger *logging.Logger) []string {
	switch {
	case len(args) > 0:
		return args
	case len(cfg.Categories) > 0:
		return cfg.Categories
	}

	names, err := resolver.Discover()
	if err != nil {
		logger.Warn("category discovery failed", zap.String("dir", cfg.ConfigDir), zap.Error(err))
	}
	if len(names) > 0 {
		logger.Info("discovered categories", zap.Strings("categories", names))
		return names
	}
	return campaign.DefaultCategories
}

func validateNames(names []string) error {
	var bad []string
	for _, name := range names {
		if !campaign.ValidCategoryName(name) {
			bad = append(bad, fmt.Sprintf("%q", name))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid category name %s: names become directory names", strings.Join(bad, ", "))
	}
	return nil
}
