// Package compare reports identifier-set differences between the document
// source and the relational target, per registered table.
package compare

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/document"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/source"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/target"
)

// maxListedIDs bounds the identifiers printed per difference direction.
const maxListedIDs = 20

// Result is the comparison outcome for one table.
type Result struct {
	Table             string
	SourceCollection  string
	SourceCount       int
	TargetCount       int
	MissingInTarget   []string
	ExtraInTarget     []string
}

// InSync reports whether both sides hold the same identifier set.
func (r Result) InSync() bool {
	return len(r.MissingInTarget) == 0 && len(r.ExtraInTarget) == 0
}

// Comparator runs the set comparison across registered tables.
type Comparator struct {
	source *source.Store
	target *target.Store
	// Since optionally restricts the source side to documents created at
	// or after the given time.
	Since *time.Time
}

// New builds a comparator over the two store handles.
func New(src *source.Store, tgt *target.Store) *Comparator {
	return &Comparator{source: src, target: tgt}
}

// CompareTable diffs one table's identifier sets.
func (c *Comparator) CompareTable(ctx context.Context, ts *schema.TableSchema) (Result, error) {
	result := Result{Table: ts.Name, SourceCollection: ts.SourceCollection}

	filter := bson.M{}
	if c.Since != nil {
		filter[source.FieldCreationDate] = bson.M{"$gte": *c.Since}
	}

	coll := c.source.Collection(ts.SourceCollection)
	sourceIDs := make(map[string]bool)
	var offset int64
	const page = 10000
	for {
		docs, err := coll.Find(ctx, filter, bson.M{"_id": 1}, offset, page)
		if err != nil {
			return result, err
		}
		for _, doc := range docs {
			if id, ok := document.IDString(doc["_id"]); ok {
				sourceIDs[id] = true
			}
		}
		if int64(len(docs)) < page {
			break
		}
		offset += page
	}

	targetIDs, err := c.target.IDSet(ctx, ts.Name)
	if err != nil {
		return result, err
	}

	result.SourceCount = len(sourceIDs)
	result.TargetCount = len(targetIDs)
	result.MissingInTarget = difference(sourceIDs, targetIDs)
	result.ExtraInTarget = difference(targetIDs, sourceIDs)
	return result, nil
}

// CompareAll diffs every direct-translation table in export order.
func (c *Comparator) CompareAll(ctx context.Context, reg *schema.Registry) ([]Result, error) {
	var results []Result
	for _, ts := range reg.Tables() {
		// Relationship tables have synthetic rows, not document ids.
		if ts.Strategy.Name != schema.StrategyDirect {
			continue
		}
		result, err := c.CompareTable(ctx, ts)
		if err != nil {
			return results, fmt.Errorf("failed to compare %s: %w", ts.Name, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// difference returns the sorted members of a not present in b.
func difference(a, b map[string]bool) []string {
	var out []string
	for id := range a {
		if !b[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Print writes the comparison report.
func Print(w io.Writer, results []Result) {
	fmt.Fprintln(w, "============================================================")
	fmt.Fprintln(w, "DATABASE COMPARISON")
	fmt.Fprintln(w, "============================================================")

	inSync := 0
	for _, r := range results {
		fmt.Fprintf(w, "\n%s (%s -> %s): source=%d target=%d\n",
			r.Table, r.SourceCollection, r.Table, r.SourceCount, r.TargetCount)

		if r.InSync() {
			fmt.Fprintln(w, "  in sync")
			inSync++
			continue
		}
		printIDs(w, "missing in target", r.MissingInTarget)
		printIDs(w, "extra in target", r.ExtraInTarget)
	}

	fmt.Fprintf(w, "\n%d/%d tables in sync\n", inSync, len(results))
}

func printIDs(w io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s: %d\n", label, len(ids))
	listed := ids
	if len(listed) > maxListedIDs {
		listed = listed[:maxListedIDs]
	}
	for _, id := range listed {
		fmt.Fprintf(w, "    - %s\n", id)
	}
	if len(ids) > maxListedIDs {
		fmt.Fprintf(w, "    ... and %d more\n", len(ids)-maxListedIDs)
	}
}
