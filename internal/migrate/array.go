package migrate

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/document"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/source"
)

// RowTransform builds one relationship row from a parent identifier and a
// fetched child document.
type RowTransform func(parentID string, child bson.M) []any

// ArrayExtractionStrategy derives a table from a named array field of
// parent documents whose elements dereference into a child collection.
// Rows never change in place, so plain upserts suffice.
type ArrayExtractionStrategy struct {
	schema     *schema.TableSchema
	arrayField string
	childColl  string
	columns    []string
	transform  RowTransform

	// children is bound at export time so ExtractRows can bulk-fetch
	// referenced documents.
	children *source.Collection
}

// NewArrayExtractionStrategy builds the variant from the table's strategy
// parameters.
func NewArrayExtractionStrategy(ts *schema.TableSchema) (*ArrayExtractionStrategy, error) {
	spec := ts.Strategy
	if len(spec.Arrays) != 1 {
		return nil, fmt.Errorf("table %s: array extraction needs exactly one array field", ts.Name)
	}
	if spec.ChildCollection == "" {
		return nil, fmt.Errorf("table %s: array extraction needs a child collection", ts.Name)
	}
	columns := spec.Columns
	if len(columns) == 0 {
		columns = ts.ColumnNames()
	}
	return &ArrayExtractionStrategy{
		schema:     ts,
		arrayField: spec.Arrays[0].Field,
		childColl:  spec.ChildCollection,
		columns:    columns,
		transform:  defaultChildTransform,
	}, nil
}

// SetTransform overrides the default child-to-row transformation.
func (s *ArrayExtractionStrategy) SetTransform(t RowTransform) {
	s.transform = t
}

// defaultChildTransform emits (child id, parent id, created, updated).
func defaultChildTransform(parentID string, child bson.M) []any {
	id, _ := document.IDString(child["_id"])
	var created, updated any
	if t, ok := document.Time(child[source.FieldCreationDate]); ok {
		created = t
	}
	if t, ok := document.Time(child[source.FieldUpdateDate]); ok {
		updated = t
	}
	return []any{id, parentID, created, updated}
}

func (s *ArrayExtractionStrategy) parentFilter(cfg ImportConfig) bson.M {
	return source.ArrayFilter([]string{s.arrayField}, cfg.AfterDate)
}

// CountTotal counts parents carrying a non-empty array.
func (s *ArrayExtractionStrategy) CountTotal(ctx context.Context, coll *source.Collection, cfg ImportConfig) (int64, error) {
	return coll.Count(ctx, s.parentFilter(cfg))
}

// FetchBatch pages through matching parents with a minimal projection.
func (s *ArrayExtractionStrategy) FetchBatch(ctx context.Context, coll *source.Collection, cfg ImportConfig, offset int64) ([]bson.M, error) {
	projection := bson.M{"_id": 1, s.arrayField: 1}
	return coll.Find(ctx, s.parentFilter(cfg), projection, offset, cfg.BatchSize)
}

// ExtractRows emits one row per existing child of the parent; references
// that do not resolve are counted as errors.
func (s *ArrayExtractionStrategy) ExtractRows(ctx context.Context, doc bson.M, cfg ImportConfig) ([][]any, []string, error) {
	parentID, ok := document.IDString(doc["_id"])
	if !ok {
		return nil, nil, fmt.Errorf("parent document in %s has no usable _id", cfg.SourceCollection)
	}

	elems, _ := document.Array(doc[s.arrayField])
	if len(elems) == 0 {
		return nil, nil, nil
	}

	found, err := s.children.FindByIDs(ctx, elems, nil)
	if err != nil {
		return nil, nil, err
	}

	var rows [][]any
	for _, elem := range elems {
		childID, ok := document.IDString(elem)
		if !ok {
			continue
		}
		child, exists := found[childID]
		if !exists {
			cfg.Summary.RecordError(cfg.TableName, "child document not found",
				map[string]any{"id": childID, "parent_id": parentID})
			continue
		}
		rows = append(rows, s.transform(parentID, child))
	}
	if rows == nil {
		return nil, nil, nil
	}
	return rows, s.columns, nil
}

// UseOnConflict upserts on the primary key.
func (s *ArrayExtractionStrategy) UseOnConflict() bool {
	return true
}

// OnConflictClause delegates to the schema's clause policy.
func (s *ArrayExtractionStrategy) OnConflictClause(columns []string) string {
	return s.schema.OnConflictClause(columns)
}

// Export binds the child reader, then runs the paginated template.
func (s *ArrayExtractionStrategy) Export(ctx context.Context, deps Deps, coll *source.Collection, cfg ImportConfig) error {
	s.children = deps.Source.Collection(s.childColl)
	return exportPaginated(ctx, s, deps, coll, cfg, func(processed, total int64, records int) string {
		return fmt.Sprintf("processed %d/%d %s, %d %s rows",
			processed, total, cfg.SourceCollection, records, cfg.TableName)
	})
}
