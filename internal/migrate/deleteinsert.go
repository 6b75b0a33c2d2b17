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

// DeleteAndInsertStrategy rewrites relationship tables whose source truth
// is a mutable array: removing an element in the source must remove the row
// in the target, which upserts cannot express. Each batch deletes every row
// of the batch's parents and inserts the fresh set; parents outside the
// batch are untouched.
type DeleteAndInsertStrategy struct {
	schema    *schema.TableSchema
	extractor *relationshipExtractor
}

// NewDeleteAndInsertStrategy builds the variant from the table's strategy
// parameters.
func NewDeleteAndInsertStrategy(ts *schema.TableSchema) (*DeleteAndInsertStrategy, error) {
	extractor, err := newRelationshipExtractor(ts)
	if err != nil {
		return nil, err
	}
	return &DeleteAndInsertStrategy{schema: ts, extractor: extractor}, nil
}

func (s *DeleteAndInsertStrategy) filter(cfg ImportConfig) bson.M {
	return source.ArrayFilter(s.extractor.arrayFields(), cfg.AfterDate)
}

// CountTotal counts parents carrying at least one relationship array.
func (s *DeleteAndInsertStrategy) CountTotal(ctx context.Context, coll *source.Collection, cfg ImportConfig) (int64, error) {
	return coll.Count(ctx, s.filter(cfg))
}

// FetchBatch pages through matching parents.
func (s *DeleteAndInsertStrategy) FetchBatch(ctx context.Context, coll *source.Collection, cfg ImportConfig, offset int64) ([]bson.M, error) {
	return coll.Find(ctx, s.filter(cfg), s.extractor.projection(), offset, cfg.BatchSize)
}

// ExtractRows emits the parent's full current relationship set.
func (s *DeleteAndInsertStrategy) ExtractRows(ctx context.Context, doc bson.M, cfg ImportConfig) ([][]any, []string, error) {
	_, rows, err := s.extractor.rows(doc)
	if err != nil {
		return nil, nil, err
	}
	if rows == nil {
		return nil, nil, nil
	}
	return rows, s.extractor.columns, nil
}

// UseOnConflict is false: the preceding delete guarantees clean inserts,
// and a conflict here would mask a real defect.
func (s *DeleteAndInsertStrategy) UseOnConflict() bool {
	return false
}

// OnConflictClause is empty for this variant.
func (s *DeleteAndInsertStrategy) OnConflictClause([]string) string {
	return ""
}

// Export replaces each batch's parents wholesale: delete by parent ids,
// then insert the fresh rows.
func (s *DeleteAndInsertStrategy) Export(ctx context.Context, deps Deps, coll *source.Collection, cfg ImportConfig) error {
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
		parents, err := s.FetchBatch(ctx, coll, cfg, offset)
		if err != nil {
			return err
		}
		if len(parents) == 0 {
			break
		}

		var batch [][]any
		parentIDs := make([]string, 0, len(parents))
		for _, parent := range parents {
			parentID, rows, err := s.extractor.rows(parent)
			if err != nil {
				return err
			}
			parentIDs = append(parentIDs, parentID)
			batch = append(batch, rows...)
		}

		// The delete pins exactly which prior rows this batch replaces.
		deleted, err := deps.Writer.DeleteByParentIDs(ctx, cfg.TableName, s.extractor.parentColumn, parentIDs)
		if err != nil {
			return err
		}

		if len(batch) > 0 {
			inserted, err := deps.Writer.ExecuteBatch(ctx, batch, s.extractor.columns, cfg.TableName, false, "")
			if err != nil {
				return err
			}
			records += inserted
		}

		processed += int64(len(parents))
		metrics.ObserveBatch(cfg.TableName, len(parents), time.Since(start))
		deps.Writer.Progress(fmt.Sprintf("processed %d/%d %s (%d rows replaced, %d deleted)",
			processed, total, cfg.SourceCollection, records, deleted))

		offset += cfg.BatchSize
		if int64(len(parents)) < cfg.BatchSize {
			break
		}
	}

	deps.Logger.Info("table export complete",
		slog.String("table", cfg.TableName),
		slog.Int64("parents", processed),
		slog.Int("records", records))
	return nil
}
