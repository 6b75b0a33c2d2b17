package migrate

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/document"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/source"
)

// fieldColumn is one resolved mapping, in stable column order.
type fieldColumn struct {
	field  string
	column string
}

// DirectStrategy is the default 1:1 document-to-row translation driven by
// the schema's field mappings.
type DirectStrategy struct {
	schema *schema.TableSchema
	// pairs holds the field mappings ordered by column declaration order,
	// so every extracted row shares one stable column list.
	pairs   []fieldColumn
	columns []string
}

// NewDirectStrategy builds the variant for one table.
func NewDirectStrategy(ts *schema.TableSchema) *DirectStrategy {
	columnToField := make(map[string]string, len(ts.FieldMappings))
	for field, column := range ts.FieldMappings {
		columnToField[column] = field
	}

	var pairs []fieldColumn
	var columns []string
	for _, col := range ts.Columns {
		field, ok := columnToField[col.Name]
		if !ok {
			continue
		}
		pairs = append(pairs, fieldColumn{field: field, column: col.Name})
		columns = append(columns, col.Name)
	}

	return &DirectStrategy{schema: ts, pairs: pairs, columns: columns}
}

// CountTotal counts documents in the incremental window.
func (s *DirectStrategy) CountTotal(ctx context.Context, coll *source.Collection, cfg ImportConfig) (int64, error) {
	return coll.Count(ctx, source.DateFilter(cfg.AfterDate))
}

// FetchBatch pages through the incremental window.
func (s *DirectStrategy) FetchBatch(ctx context.Context, coll *source.Collection, cfg ImportConfig, offset int64) ([]bson.M, error) {
	return coll.Find(ctx, source.DateFilter(cfg.AfterDate), nil, offset, cfg.BatchSize)
}

// ExtractRows applies the field mappings: the source identifier is
// stringified, nested identifier values are stringified, missing fields
// become NULL.
func (s *DirectStrategy) ExtractRows(ctx context.Context, doc bson.M, cfg ImportConfig) ([][]any, []string, error) {
	if cfg.Filter != nil && !cfg.Filter(doc) {
		return nil, nil, nil
	}

	values := make([]any, len(s.pairs))
	for i, pair := range s.pairs {
		if pair.field == "_id" {
			id, ok := document.IDString(doc["_id"])
			if !ok {
				return nil, nil, fmt.Errorf("document in %s has no usable _id", cfg.SourceCollection)
			}
			values[i] = id
			continue
		}
		v, ok := document.Get(doc, pair.field)
		if !ok {
			values[i] = nil
			continue
		}
		values[i] = document.SQLValue(v)
	}

	return [][]any{values}, s.columns, nil
}

// UseOnConflict always upserts so watermark-boundary re-reads are no-ops.
func (s *DirectStrategy) UseOnConflict() bool {
	return true
}

// OnConflictClause delegates to the schema's clause policy.
func (s *DirectStrategy) OnConflictClause(columns []string) string {
	return s.schema.OnConflictClause(columns)
}

// Export runs the paginated template.
func (s *DirectStrategy) Export(ctx context.Context, deps Deps, coll *source.Collection, cfg ImportConfig) error {
	return exportPaginated(ctx, s, deps, coll, cfg, func(processed, total int64, records int) string {
		return fmt.Sprintf("processed %d/%d documents for %s (%d rows written)",
			processed, total, cfg.TableName, records)
	})
}
