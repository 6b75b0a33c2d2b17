package migrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/config"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/logging"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/metrics"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/source"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/target"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/tunnel"
)

// Runner orchestrates one full sync: reconcile the target schema, then
// process every registered table in dependency order.
type Runner struct {
	cfg      *config.Config
	registry *schema.Registry
	logger   *slog.Logger
	out      io.Writer
	// ConfirmPlan gates reconciler changes. It receives the proposed plan
	// and returns whether to apply it.
	ConfirmPlan func(*schema.Plan) bool
}

// NewRunner builds a runner. The default plan confirmation rejects, so
// callers must wire an explicit policy (interactive prompt or --yes).
func NewRunner(cfg *config.Config, registry *schema.Registry, logger *slog.Logger, out io.Writer) *Runner {
	return &Runner{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		out:      out,
		ConfirmPlan: func(*schema.Plan) bool {
			return false
		},
	}
}

// Run executes the migration and returns the aggregated summary.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	logger := r.logger.With(slog.String("run_id", runID))
	redactor := logging.NewRedactor(r.cfg.Secrets())

	// Global floor first: a bad value must surface before any connection
	// is opened.
	globalFloor, err := r.globalFloor(logger)
	if err != nil {
		return nil, err
	}

	sourceCfg, targetCfg, tunnels, err := r.resolveEndpoints(logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, t := range tunnels {
			_ = t.Close()
		}
	}()

	targetStore, err := target.Connect(ctx, targetCfg)
	if err != nil {
		return nil, err
	}
	defer targetStore.Close()

	// Schema phase: blocking errors halt before any data phase.
	reconciler := schema.NewReconciler(targetStore.DB(), logger)
	plan, err := reconciler.Plan(ctx, r.registry)
	if err != nil {
		return nil, fmt.Errorf("schema reconciliation failed: %w", err)
	}
	for _, warning := range plan.Warnings {
		logger.Warn(warning)
	}
	if !plan.Empty() {
		fmt.Fprintln(r.out, "Proposed schema changes:")
		for _, stmt := range plan.Statements() {
			fmt.Fprintf(r.out, "  %s;\n", stmt)
		}
		if !r.ConfirmPlan(plan) {
			return nil, fmt.Errorf("schema changes not confirmed, aborting before data phase")
		}
		if err := reconciler.Apply(ctx, plan); err != nil {
			return nil, err
		}
	}

	sourceStore, err := source.Connect(ctx, sourceCfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sourceStore.Close(closeCtx)
	}()

	runSummary := NewSummary()
	writer, err := targetStore.Writer(ctx, target.WriterOptions{
		Summary:   runSummary,
		ByBatch:   r.cfg.Import.ByBatch,
		Direct:    r.cfg.Import.Direct,
		ExportDir: r.cfg.Import.SQLExportDir,
		Logger:    logger,
		Redactor:  redactor,
	})
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	watermarks := NewWatermarkService(targetStore, globalFloor, logger)

	for _, ts := range r.registry.Tables() {
		if err := ctx.Err(); err != nil {
			return runSummary, err
		}

		logger.Info("processing table",
			slog.String("table", ts.Name),
			slog.Int("export_order", ts.ExportOrder),
			slog.String("strategy", ts.Strategy.Name))

		tableSummary := NewSummary()
		writer.SetSummary(tableSummary)

		start := time.Now()
		err := r.exportTable(ctx, ts, sourceStore, targetStore, writer, watermarks, tableSummary, logger)
		metrics.ObserveTable(ts.Name, time.Since(start))
		metrics.CountRows(ts.Name, "inserted", tableSummary.Good(ts.Name))
		metrics.CountRows(ts.Name, "skipped", tableSummary.Skipped(ts.Name))
		metrics.CountRows(ts.Name, "failed", tableSummary.BadTotal(ts.Name))

		runSummary.Merge(tableSummary)

		if err != nil {
			// Row-level failures never reach here; anything that does is
			// a table-level fault and aborts the run.
			return runSummary, fmt.Errorf("table %s failed: %w", ts.Name, err)
		}
	}

	runSummary.Print(r.out)
	return runSummary, nil
}

func (r *Runner) exportTable(ctx context.Context, ts *schema.TableSchema, sourceStore *source.Store, targetStore *target.Store, writer *target.Writer, watermarks *WatermarkService, summary *Summary, logger *slog.Logger) error {
	if ts.ForceReimport && ts.TruncateBeforeImport {
		logger.Info("truncate enabled, clearing existing data", slog.String("table", ts.Name))
		if err := targetStore.TruncateCascade(ctx, ts.Name); err != nil {
			return err
		}
	}

	after, err := watermarks.ForTable(ctx, ts)
	if err != nil {
		return err
	}
	if after != nil {
		logger.Info("incremental import", slog.String("table", ts.Name), slog.Time("after", *after))
	} else {
		logger.Info("full import", slog.String("table", ts.Name))
	}

	strategy, err := NewStrategy(ts)
	if err != nil {
		return err
	}

	cfg := ImportConfig{
		TableName:        ts.Name,
		SourceCollection: ts.SourceCollection,
		BatchSize:        int64(r.cfg.Import.BatchSize),
		AfterDate:        after,
		Summary:          summary,
	}

	deps := Deps{
		Writer: writer,
		Target: targetStore,
		Source: sourceStore,
		Schema: ts,
		Logger: logger,
	}

	return strategy.Export(ctx, deps, sourceStore.Collection(ts.SourceCollection), cfg)
}

// globalFloor parses the configured threshold. Invalid values are ignored
// with a warning, per the configuration contract.
func (r *Runner) globalFloor(logger *slog.Logger) (*time.Time, error) {
	raw := r.cfg.Import.GlobalDateThreshold
	if raw == "" {
		return nil, nil
	}
	t, err := config.ParseDateThreshold(raw)
	if err != nil {
		logger.Warn("ignoring invalid global date threshold", slog.String("value", raw))
		return nil, nil
	}
	logger.Info("global date threshold active", slog.Time("threshold", t))
	return &t, nil
}

// resolveEndpoints rewrites the store coordinates through SSH tunnels when
// a transfer side is remote.
func (r *Runner) resolveEndpoints(logger *slog.Logger) (config.SourceConfig, config.TargetConfig, []*tunnel.Tunnel, error) {
	sourceCfg := r.cfg.Source
	targetCfg := r.cfg.Target
	var tunnels []*tunnel.Tunnel

	remote := r.cfg.Transfer.Remote

	if r.cfg.Transfer.Source == config.EndpointRemote {
		mongoHost, mongoPort := "localhost", 27017
		if remote.MongoURL != "" {
			if u, err := url.Parse(remote.MongoURL); err == nil && u.Hostname() != "" {
				mongoHost = u.Hostname()
				if p := u.Port(); p != "" {
					if port, err := strconv.Atoi(p); err == nil {
						mongoPort = port
					}
				}
			}
		}
		t, err := tunnel.Open(tunnel.Config{
			ServerAddr: remote.ServerURL,
			User:       remote.ServerUser,
			Password:   remote.ServerPassword,
			RemoteHost: mongoHost,
			RemotePort: mongoPort,
		}, logger)
		if err != nil {
			return sourceCfg, targetCfg, tunnels, fmt.Errorf("failed to tunnel to remote source: %w", err)
		}
		tunnels = append(tunnels, t)
		sourceCfg.URL = "mongodb://" + t.LocalAddr()
		if remote.MongoDatabase != "" {
			sourceCfg.Database = remote.MongoDatabase
		}
	}

	if r.cfg.Transfer.Destination == config.EndpointRemote {
		t, err := tunnel.Open(tunnel.Config{
			ServerAddr: remote.ServerURL,
			User:       remote.ServerUser,
			Password:   remote.ServerPassword,
			RemoteHost: "localhost",
			RemotePort: remote.PostgresPort,
		}, logger)
		if err != nil {
			for _, open := range tunnels {
				_ = open.Close()
			}
			return sourceCfg, targetCfg, nil, fmt.Errorf("failed to tunnel to remote target: %w", err)
		}
		tunnels = append(tunnels, t)
		host, portStr, _ := net.SplitHostPort(t.LocalAddr())
		port, _ := strconv.Atoi(portStr)
		targetCfg.Host = host
		targetCfg.Port = port
		if remote.PostgresDatabase != "" {
			targetCfg.Database = remote.PostgresDatabase
		}
		if remote.PostgresUser != "" {
			targetCfg.User = remote.PostgresUser
		}
		if remote.PostgresPassword != "" {
			targetCfg.Password = remote.PostgresPassword
		}
	}

	return sourceCfg, targetCfg, tunnels, nil
}
