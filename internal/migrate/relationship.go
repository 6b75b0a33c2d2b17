package migrate

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/document"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/source"
)

// tupleSeparator joins tuple components into set keys. The unit separator
// cannot appear in identifiers or discriminators.
const tupleSeparator = "\x1f"

// relationshipExtractor turns a parent document's arrays into relationship
// rows. Shared by the delete-and-insert and smart-diff variants.
//
// Row layout is positional: parent id, child id, optional discriminator,
// created_at, updated_at — matching the configured column list.
type relationshipExtractor struct {
	parentColumn string
	childColumn  string
	typeColumn   string
	arrays       []schema.ArrayFieldSpec
	columns      []string
}

func newRelationshipExtractor(ts *schema.TableSchema) (*relationshipExtractor, error) {
	spec := ts.Strategy
	if spec.ParentColumn == "" || spec.ChildColumn == "" {
		return nil, fmt.Errorf("table %s: relationship strategy needs parent_column and child_column", ts.Name)
	}
	if len(spec.Arrays) == 0 {
		return nil, fmt.Errorf("table %s: relationship strategy needs at least one array field", ts.Name)
	}

	columns := spec.Columns
	if len(columns) == 0 {
		columns = []string{spec.ParentColumn, spec.ChildColumn}
		if spec.TypeColumn != "" {
			columns = append(columns, spec.TypeColumn)
		}
		columns = append(columns, schema.ColumnCreatedAt, schema.ColumnUpdatedAt)
	}

	want := 4
	if spec.TypeColumn != "" {
		want = 5
	}
	if len(columns) != want {
		return nil, fmt.Errorf("table %s: relationship strategy expects %d columns, got %d", ts.Name, want, len(columns))
	}

	return &relationshipExtractor{
		parentColumn: spec.ParentColumn,
		childColumn:  spec.ChildColumn,
		typeColumn:   spec.TypeColumn,
		arrays:       spec.Arrays,
		columns:      columns,
	}, nil
}

func (r *relationshipExtractor) arrayFields() []string {
	fields := make([]string, len(r.arrays))
	for i, a := range r.arrays {
		fields[i] = a.Field
	}
	return fields
}

func (r *relationshipExtractor) projection() bson.M {
	p := bson.M{"_id": 1, source.FieldCreationDate: 1, source.FieldUpdateDate: 1}
	for _, a := range r.arrays {
		p[a.Field] = 1
	}
	return p
}

// parentID extracts the stringified parent identifier.
func (r *relationshipExtractor) parentID(doc bson.M) (string, error) {
	id, ok := document.IDString(doc["_id"])
	if !ok {
		return "", fmt.Errorf("parent document has no usable _id")
	}
	return id, nil
}

// rows builds the full current relationship set of one parent.
func (r *relationshipExtractor) rows(doc bson.M) (string, [][]any, error) {
	parentID, err := r.parentID(doc)
	if err != nil {
		return "", nil, err
	}

	parentCreated, _ := document.Time(doc[source.FieldCreationDate])
	parentUpdated, hasUpdated := document.Time(doc[source.FieldUpdateDate])

	var rows [][]any
	for _, spec := range r.arrays {
		elems, _ := document.Array(doc[spec.Field])
		for _, elem := range elems {
			childID, ok := document.RefID(elem, spec.RefKey)
			if !ok {
				continue
			}

			created := parentCreated
			if spec.DateKey != "" {
				if t, ok := document.RefTime(elem, spec.DateKey); ok {
					created = t
				}
			}
			updated := created
			if hasUpdated {
				updated = parentUpdated
			}

			row := []any{parentID, childID}
			if r.typeColumn != "" {
				row = append(row, spec.Discriminator)
			}
			row = append(row, nullableTime(created), nullableTime(updated))
			rows = append(rows, row)
		}
	}
	return parentID, rows, nil
}

// tuples builds the source set keyed by (child id, discriminator) for diff
// computation, mapping each key to its full insert row.
func (r *relationshipExtractor) tuples(doc bson.M) (string, map[string][]any, error) {
	parentID, rows, err := r.rows(doc)
	if err != nil {
		return "", nil, err
	}
	set := make(map[string][]any, len(rows))
	for _, row := range rows {
		set[r.rowKey(row)] = row
	}
	return parentID, set, nil
}

// rowKey derives the set key of one insert row: child id plus discriminator.
func (r *relationshipExtractor) rowKey(row []any) string {
	child := fmt.Sprintf("%v", row[1])
	if r.typeColumn != "" {
		return child + tupleSeparator + fmt.Sprintf("%v", row[2])
	}
	return child
}

// tupleKey derives the set key of one relational tuple read from the target.
func tupleKey(tuple []string) string {
	return strings.Join(tuple, tupleSeparator)
}

func nullableTime(t any) any {
	switch v := t.(type) {
	case interface{ IsZero() bool }:
		if v.IsZero() {
			return nil
		}
	}
	return t
}
