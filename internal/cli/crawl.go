package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/zipsea/cruisesync/internal/checkpoint"
	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/crawler"
	"github.com/zipsea/cruisesync/internal/database"
	"github.com/zipsea/cruisesync/internal/logging"
	"github.com/zipsea/cruisesync/internal/metrics"
	"github.com/zipsea/cruisesync/internal/remote"
	"github.com/zipsea/cruisesync/internal/upsert"
)

// CrawlCommand runs a single full crawl to completion and exits. If a
// previous crawl was interrupted it resumes from the saved checkpoint.
type CrawlCommand struct {
	RootPath  string
	Workers   int
	BatchSize int
}

// NewCrawlCommand creates a new CrawlCommand
func NewCrawlCommand() *CrawlCommand {
	return &CrawlCommand{}
}

// ParseFlags parses command line flags
func (cmd *CrawlCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)

	fs.StringVar(&cmd.RootPath, "root", "", "Remote root path to crawl (default from CRAWL_ROOT_PATH)")
	fs.IntVar(&cmd.Workers, "workers", 0, "Concurrent file fetches (default from CRAWL_WORKERS)")
	fs.IntVar(&cmd.BatchSize, "batch-size", 0, "Files per checkpoint batch (default from CRAWL_BATCH_SIZE)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s crawl [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run a full crawl of the remote cruise inventory tree.\n\n")
		fmt.Fprintf(os.Stderr, "The crawl walks every sailing-month/line/ship directory, normalizes\n")
		fmt.Fprintf(os.Stderr, "each JSON file and upserts it into the local database. Progress is\n")
		fmt.Fprintf(os.Stderr, "checkpointed so an interrupted crawl resumes where it left off.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s crawl\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s crawl -root /2026-05 -workers 8\n", os.Args[0])
	}

	return fs.Parse(args)
}

// Run executes the crawl command
func (cmd *CrawlCommand) Run() error {
	cfg := config.NewConfig()
	if cmd.RootPath != "" {
		cfg.Crawl.RootPath = cmd.RootPath
	}
	if cmd.Workers > 0 {
		cfg.Crawl.Workers = cmd.Workers
	}
	if cmd.BatchSize > 0 {
		cfg.Crawl.BatchSize = cmd.BatchSize
	}

	logger := logging.NewLogger()
	defer logger.Sync()

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	ftpClient := remote.NewFTPClient(cfg.FTP, logger)
	defer ftpClient.Close()

	engine := upsert.NewEngine(db.DB, upsert.NewRecorder(), logger)
	orchestrator := crawler.NewOrchestrator(
		ftpClient, engine, checkpoint.NewRepository(db.DB), db.DB,
		cfg.Crawl, metrics.NewMetrics("cruisesync"), logger)

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	fmt.Printf("Crawl %s finished\n", result.RunID)
	fmt.Printf("  processed:   %d\n", result.Processed)
	fmt.Printf("  created:     %d\n", result.Created)
	fmt.Printf("  updated:     %d\n", result.Updated)
	fmt.Printf("  failed:      %d\n", result.Failed)
	fmt.Printf("  deactivated: %d\n", result.Deactivated)
	fmt.Printf("  duration:    %s\n", result.Duration)

	if result.Failed > 0 {
		fmt.Printf("\nFailed files (will be retried on the next run):\n")
		for _, f := range result.FailedPaths {
			fmt.Printf("  %s (%s): %s\n", f.Path, f.Kind, f.Message)
		}
	}

	return nil
}
