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
)

// defaultDiffThreshold is the change ratio above which a parent degrades to
// a full delete-and-insert rewrite.
const defaultDiffThreshold = 0.30

// SmartDiffStrategy optimizes delete-and-insert for the typical case of
// "one item added to an existing set": it reads each parent's current
// relational set, diffs it against the source set, and applies targeted
// deletes and inserts when the change is small. Correctness is identical to
// the full rewrite; only the number of write operations differs.
type SmartDiffStrategy struct {
	schema    *schema.TableSchema
	extractor *relationshipExtractor
	threshold float64
}

// NewSmartDiffStrategy builds the variant from the table's strategy
// parameters.
func NewSmartDiffStrategy(ts *schema.TableSchema) (*SmartDiffStrategy, error) {
	extractor, err := newRelationshipExtractor(ts)
	if err != nil {
		return nil, err
	}
	threshold := ts.Strategy.Threshold
	if threshold <= 0 {
		threshold = defaultDiffThreshold
	}
	return &SmartDiffStrategy{schema: ts, extractor: extractor, threshold: threshold}, nil
}

func (s *SmartDiffStrategy) filter(cfg ImportConfig) bson.M {
	return source.ArrayFilter(s.extractor.arrayFields(), cfg.AfterDate)
}

// CountTotal counts parents carrying at least one relationship array.
func (s *SmartDiffStrategy) CountTotal(ctx context.Context, coll *source.Collection, cfg ImportConfig) (int64, error) {
	return coll.Count(ctx, s.filter(cfg))
}

// FetchBatch pages through matching parents.
func (s *SmartDiffStrategy) FetchBatch(ctx context.Context, coll *source.Collection, cfg ImportConfig, offset int64) ([]bson.M, error) {
	return coll.Find(ctx, s.filter(cfg), s.extractor.projection(), offset, cfg.BatchSize)
}

// ExtractRows emits the parent's full current relationship set; the diff
// happens against it in Export.
func (s *SmartDiffStrategy) ExtractRows(ctx context.Context, doc bson.M, cfg ImportConfig) ([][]any, []string, error) {
	_, rows, err := s.extractor.rows(doc)
	if err != nil {
		return nil, nil, err
	}
	if rows == nil {
		return nil, nil, nil
	}
	return rows, s.extractor.columns, nil
}

// UseOnConflict is false, as for the full rewrite.
func (s *SmartDiffStrategy) UseOnConflict() bool {
	return false
}

// OnConflictClause is empty for this variant.
func (s *SmartDiffStrategy) OnConflictClause([]string) string {
	return ""
}

// diffPlan is the outcome of diffing one parent.
type diffPlan struct {
	adds    [][]any
	removes [][]string
	// rewrite degrades the parent to a full delete-and-insert.
	rewrite bool
}

// planParent diffs one parent's source set against its relational set.
func (s *SmartDiffStrategy) planParent(src map[string][]any, rel [][]string) diffPlan {
	relKeys := make(map[string][]string, len(rel))
	for _, tuple := range rel {
		relKeys[tupleKey(tuple)] = tuple
	}

	var plan diffPlan
	for key, row := range src {
		if _, ok := relKeys[key]; !ok {
			plan.adds = append(plan.adds, row)
		}
	}
	for key, tuple := range relKeys {
		if _, ok := src[key]; !ok {
			plan.removes = append(plan.removes, tuple)
		}
	}

	changes := len(plan.adds) + len(plan.removes)
	if float64(changes) > s.threshold*float64(len(src)+len(rel)) {
		plan.rewrite = true
	}
	return plan
}

// Export diffs each parent and applies the cheaper of (targeted changes,
// full rewrite).
func (s *SmartDiffStrategy) Export(ctx context.Context, deps Deps, coll *source.Collection, cfg ImportConfig) error {
	if !deps.Writer.Direct() {
		// The diff needs the live relational set; deferred mode falls back
		// to the full rewrite per batch.
		fallback := &DeleteAndInsertStrategy{schema: s.schema, extractor: s.extractor}
		return fallback.Export(ctx, deps, coll, cfg)
	}

	total, err := s.CountTotal(ctx, coll, cfg)
	if err != nil {
		return err
	}

	deleteColumns := []string{s.extractor.parentColumn, s.extractor.childColumn}
	if s.extractor.typeColumn != "" {
		deleteColumns = append(deleteColumns, s.extractor.typeColumn)
	}

	var processed int64
	inserted, removed, rewritten := 0, 0, 0
	var offset int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		parents, err := s.FetchBatch(ctx, coll, cfg, offset)
		if err != nil {
			return err
		}
		if len(parents) == 0 {
			break
		}

		for _, parent := range parents {
			parentID, src, err := s.extractor.tuples(parent)
			if err != nil {
				return err
			}

			rel, err := deps.Target.RelationshipTuples(ctx, cfg.TableName,
				s.extractor.parentColumn, s.extractor.childColumn, s.extractor.typeColumn, parentID)
			if err != nil {
				return err
			}

			plan := s.planParent(src, rel)

			if plan.rewrite {
				if _, err := deps.Writer.DeleteByParentIDs(ctx, cfg.TableName, s.extractor.parentColumn, []string{parentID}); err != nil {
					return err
				}
				rows := make([][]any, 0, len(src))
				for _, row := range src {
					rows = append(rows, row)
				}
				n, err := deps.Writer.ExecuteBatch(ctx, rows, s.extractor.columns, cfg.TableName, false, "")
				if err != nil {
					return err
				}
				inserted += n
				rewritten++
				continue
			}

			if len(plan.removes) > 0 {
				tuples := make([][]string, len(plan.removes))
				for i, rm := range plan.removes {
					tuples[i] = append([]string{parentID}, rm...)
				}
				n, err := deps.Writer.DeleteTuples(ctx, cfg.TableName, deleteColumns, tuples)
				if err != nil {
					return err
				}
				removed += n
			}
			if len(plan.adds) > 0 {
				n, err := deps.Writer.ExecuteBatch(ctx, plan.adds, s.extractor.columns, cfg.TableName, false, "")
				if err != nil {
					return err
				}
				inserted += n
			}
		}

		processed += int64(len(parents))
		metrics.ObserveBatch(cfg.TableName, len(parents), time.Since(start))
		deps.Writer.Progress(fmt.Sprintf("diffed %d/%d %s (%d added, %d removed, %d rewritten)",
			processed, total, cfg.SourceCollection, inserted, removed, rewritten))

		offset += cfg.BatchSize
		if int64(len(parents)) < cfg.BatchSize {
			break
		}
	}

	deps.Logger.Info("table export complete",
		slog.String("table", cfg.TableName),
		slog.Int64("parents", processed),
		slog.Int("added", inserted),
		slog.Int("removed", removed),
		slog.Int("rewritten", rewritten))
	return nil
}
