// cmd/matchsim - race N concurrent joiners through matchmaking and report
// how they were distributed across teams.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"wordduel/database"
	"wordduel/models"
	"wordduel/realtime"
	"wordduel/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

type options struct {
	players    int
	tier       string
	dbPath     string
	retryDelay time.Duration
	attempts   int
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "matchsim",
		Short:        "Race concurrent players through matchmaking against a SQLite store",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.players, "players", "n", 9, "number of concurrent players")
	f.StringVarP(&opts.tier, "tier", "t", string(models.TierIntermediate), "skill tier to match in")
	f.StringVar(&opts.dbPath, "db", "file::memory:", "SQLite database path")
	f.DurationVar(&opts.retryDelay, "retry-delay", 50*time.Millisecond, "delay between join retries")
	f.IntVar(&opts.attempts, "attempts", services.DefaultMaxAttempts, "join attempts before giving up")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log every matchmaking step")
	return cmd
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tier, err := models.ParseTier(opts.tier)
	if err != nil {
		return err
	}

	log := zap.NewNop().Sugar()
	if opts.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = l.Sync() }()
		log = l.Sugar()
	}

	db, err := database.Open(sqlite.Open(opts.dbPath), logger.Silent)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = database.Close(db) }()
	if err := database.RunMigrations(db, log); err != nil {
		return err
	}

	broker := realtime.NewBroker(log)
	defer func() { _ = broker.Close() }()
	store := database.NewStore(db, broker, log)
	mm := services.NewMatchmaker(store, log,
		services.WithMaxAttempts(opts.attempts),
		services.WithRetryDelay(opts.retryDelay),
	)

	rep, err := simulate(ctx, store, mm, opts.players, tier)
	if err != nil {
		return err
	}
	rep.print(out)
	return rep.verify()
}
