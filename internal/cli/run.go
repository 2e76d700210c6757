package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"

	"endpoint-reconciler/internal/api"
	"endpoint-reconciler/internal/config"
	"endpoint-reconciler/internal/creds"
	"endpoint-reconciler/internal/models"
	"endpoint-reconciler/internal/ratelimit"
	"endpoint-reconciler/internal/reconcile"
	"endpoint-reconciler/internal/report"
	"endpoint-reconciler/internal/retry"
	"endpoint-reconciler/internal/runtrack"
	"endpoint-reconciler/internal/snsclient"
	"endpoint-reconciler/internal/store"
)

// runEngine is the shared bootstrap for the reconcile and delete commands:
// store, credentials, SNS client, status server, engine, report.
func runEngine(parent context.Context, mode string, flags runFlags) error {
	cfg := applyFlags(config.Load(), flags)
	log := slog.Default()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-ch:
			log.Info("stop signal received, finishing current batch", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	var broker creds.Broker
	if cfg.AssumeRoleARN != "" {
		broker = creds.NewAssumeRoleBroker(awsCfg, cfg.AssumeRoleARN, cfg.RoleSessionName, cfg.GrantDuration)
	} else {
		broker = creds.ProviderBroker{Provider: awsCfg.Credentials, Lifetime: cfg.GrantDuration}
	}
	manager := creds.NewManager(broker, cfg.CredSafetyMargin)
	if err := manager.Ensure(ctx); err != nil {
		return fmt.Errorf("acquire initial grant: %w", err)
	}

	snsCfg := awsCfg.Copy()
	snsCfg.Credentials = manager
	client := snsclient.New(snsCfg)

	retrier := retry.New(manager, retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		BaseDelay:    cfg.RetryBaseDelay,
		MaxRefreshes: cfg.MaxRefreshes,
	})

	var pacer reconcile.Pacer
	if cfg.RateLimitEnabled && cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		pacer = ratelimit.NewTokenBucket(rdb, "pace:sns", cfg.RateLimitCapacity, cfg.RateLimitRefill, 0)
	}

	source := models.SourceTable{
		Table:     cfg.SourceTable,
		IDColumn:  cfg.SourceIDColumn,
		ARNColumn: cfg.SourceARNColumn,
	}

	var tracker *runtrack.Tracker
	if flags.resumeRunID != "" {
		tracker, err = runtrack.Resume(ctx, st, flags.resumeRunID)
		if err != nil {
			return err
		}
		log.Info("resuming run",
			"run_id", flags.resumeRunID,
			"watermark", tracker.Watermark(),
			"already_processed", tracker.Processed())
	} else {
		tracker, err = runtrack.StartNew(ctx, st, mode, source)
		if err != nil {
			return err
		}
		log.Info("starting new run", "run_id", tracker.Run().ID, "mode", mode)
	}

	statusSrv := api.New(st)
	statusSrv.SetCurrentRun(tracker.Run().ID)
	if ln, lerr := net.Listen("tcp", cfg.StatusAddr); lerr != nil {
		log.Warn("status server disabled", "addr", cfg.StatusAddr, "error", lerr)
	} else {
		// The status server outlives the stop signal slightly: it shuts
		// down when runEngine returns, not when the run is told to stop.
		srvCtx, srvCancel := context.WithCancel(context.Background())
		defer srvCancel()
		go func() {
			if err := statusSrv.Serve(srvCtx, ln); err != nil {
				log.Warn("status server stopped", "error", err)
			}
		}()
	}

	engine := reconcile.New(reconcile.Config{
		Mode:             mode,
		Source:           source,
		ChunkSize:        cfg.ChunkSize,
		BatchSize:        cfg.BatchSize,
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		RecordLimit:      flags.limit,
		BatchPause:       cfg.BatchPause,
		DryRun:           flags.dryRun,
	}, st, tracker, client, retrier, pacer, log)

	sum, runErr := engine.Run(ctx)
	printSummary(sum)
	publishReport(parent, cfg, sum, log)
	if runErr != nil {
		return fmt.Errorf("run %s stopped: %w", sum.RunID, runErr)
	}
	return nil
}

func applyFlags(cfg config.Config, flags runFlags) config.Config {
	if flags.table != "" {
		cfg.SourceTable = flags.table
	}
	if flags.idColumn != "" {
		cfg.SourceIDColumn = flags.idColumn
	}
	if flags.arnColumn != "" {
		cfg.SourceARNColumn = flags.arnColumn
	}
	if flags.chunkSize > 0 {
		cfg.ChunkSize = flags.chunkSize
	}
	if flags.batchSize > 0 {
		cfg.BatchSize = flags.batchSize
	}
	if flags.concurrency > 0 {
		cfg.ConcurrencyLimit = flags.concurrency
	}
	return cfg
}

func printSummary(sum reconcile.Summary) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sum)
}

// publishReport uses the parent context: a cancelled run should still get
// its partial summary archived.
func publishReport(ctx context.Context, cfg config.Config, sum reconcile.Summary, log *slog.Logger) {
	var up report.Uploader
	switch {
	case cfg.ReportS3Bucket != "":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Warn("skipping report upload", "error", err)
			return
		}
		up = report.NewS3Uploader(awsCfg, cfg.ReportS3Bucket)
	case cfg.ReportDir != "":
		up = &report.LocalUploader{BaseDir: cfg.ReportDir}
	default:
		return
	}
	loc, err := report.Publish(ctx, up, sum)
	if err != nil {
		log.Warn("report publish failed", "error", err)
		return
	}
	log.Info("summary report published", "location", loc)
}
