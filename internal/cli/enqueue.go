package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/database"
	"github.com/zipsea/cruisesync/internal/queue"
)

// EnqueueCommand adds a sync job for a cruise line to the queue, the same
// thing the pricing webhook does. Useful for manual resyncs.
type EnqueueCommand struct {
	LineID uint
	Paths  string
}

// NewEnqueueCommand creates a new EnqueueCommand
func NewEnqueueCommand() *EnqueueCommand {
	return &EnqueueCommand{}
}

// ParseFlags parses command line flags
func (cmd *EnqueueCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)

	fs.UintVar(&cmd.LineID, "line", 0, "Cruise line id to resync (required)")
	fs.StringVar(&cmd.Paths, "paths", "", "Comma-separated file paths (optional, defaults to the line's whole subtree)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s enqueue -line <id> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Enqueue a sync job for one cruise line. A running server's queue\n")
		fmt.Fprintf(os.Stderr, "workers pick the job up on their next poll.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s enqueue -line 16\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s enqueue -line 16 -paths /2026-05/16/248/9001.json\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if cmd.LineID == 0 {
		fs.Usage()
		return fmt.Errorf("-line is required")
	}

	return nil
}

// Run executes the enqueue command
func (cmd *EnqueueCommand) Run() error {
	cfg := config.NewConfig()

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var paths []string
	if cmd.Paths != "" {
		for _, p := range strings.Split(cmd.Paths, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
	}

	job, err := queue.NewRepository(db.DB).Enqueue(cmd.LineID, paths)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	fmt.Printf("Enqueued job %d for line %d", job.ID, cmd.LineID)
	if len(paths) > 0 {
		fmt.Printf(" (%d explicit paths)", len(paths))
	}
	fmt.Println()

	return nil
}
