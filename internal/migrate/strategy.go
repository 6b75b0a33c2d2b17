package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/metrics"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/source"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/target"
)

// ImportConfig carries the immutable per-invocation parameters of one
// table's import.
type ImportConfig struct {
	TableName        string
	SourceCollection string
	BatchSize        int64
	// AfterDate is the incremental watermark; nil means full import.
	AfterDate *time.Time
	// Filter optionally drops documents before transformation.
	Filter  func(bson.M) bool
	Summary *Summary
}

// Deps bundles the collaborators a strategy needs to run.
type Deps struct {
	Writer *target.Writer
	Target *target.Store
	Source *source.Store
	Schema *schema.TableSchema
	Logger *slog.Logger
}

// Strategy is the per-table glue between the source reader and the target
// writer. Four variants exist: direct translation, array extraction,
// delete-and-insert, and smart diff.
type Strategy interface {
	// CountTotal counts the documents the run will process.
	CountTotal(ctx context.Context, coll *source.Collection, cfg ImportConfig) (int64, error)
	// FetchBatch returns one page of documents at the given offset.
	FetchBatch(ctx context.Context, coll *source.Collection, cfg ImportConfig, offset int64) ([]bson.M, error)
	// ExtractRows transforms one document into rows. A nil row set with a
	// nil error skips the document.
	ExtractRows(ctx context.Context, doc bson.M, cfg ImportConfig) ([][]any, []string, error)
	// UseOnConflict reports whether inserts carry a conflict clause.
	UseOnConflict() bool
	// OnConflictClause returns the clause for the given insert columns.
	OnConflictClause(columns []string) string
	// Export runs the full table import.
	Export(ctx context.Context, deps Deps, coll *source.Collection, cfg ImportConfig) error
}

// NewStrategy resolves a table's configured strategy variant.
func NewStrategy(ts *schema.TableSchema) (Strategy, error) {
	switch ts.Strategy.Name {
	case schema.StrategyDirect, "":
		return NewDirectStrategy(ts), nil
	case schema.StrategyArrayExtraction:
		return NewArrayExtractionStrategy(ts)
	case schema.StrategyDeleteAndInsert:
		return NewDeleteAndInsertStrategy(ts)
	case schema.StrategySmartDiff:
		return NewSmartDiffStrategy(ts)
	default:
		return nil, fmt.Errorf("unknown import strategy %q for table %s", ts.Strategy.Name, ts.Name)
	}
}

// exportPaginated is the shared template: count, page through the source,
// extract per document, hand batches to the writer, emit progress. Used by
// the direct and array-extraction variants.
func exportPaginated(ctx context.Context, s Strategy, deps Deps, coll *source.Collection, cfg ImportConfig, progress func(processed, total int64, records int) string) error {
	if !deps.Writer.Direct() {
		if err := deps.Writer.Files().Reset(cfg.TableName); err != nil {
			return err
		}
	}

	total, err := s.CountTotal(ctx, coll, cfg)
	if err != nil {
		return err
	}

	var processed int64
	records := 0
	var offset int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		docs, err := s.FetchBatch(ctx, coll, cfg, offset)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			break
		}

		var batch [][]any
		var columns []string
		for _, doc := range docs {
			rows, cols, err := s.ExtractRows(ctx, doc, cfg)
			if err != nil {
				return err
			}
			if rows == nil {
				continue
			}
			if columns == nil {
				columns = cols
			}
			batch = append(batch, rows...)
		}

		if len(batch) > 0 {
			inserted, err := deps.Writer.ExecuteBatch(ctx, batch, columns, cfg.TableName,
				s.UseOnConflict(), s.OnConflictClause(columns))
			if err != nil {
				return err
			}
			records += inserted
		}

		processed += int64(len(docs))
		metrics.ObserveBatch(cfg.TableName, len(docs), time.Since(start))
		deps.Writer.Progress(progress(processed, total, records))

		offset += cfg.BatchSize
		if int64(len(docs)) < cfg.BatchSize {
			break
		}
	}

	deps.Logger.Info("table export complete",
		slog.String("table", cfg.TableName),
		slog.Int64("documents", processed),
		slog.Int("records", records))
	return nil
}
