// Package document provides value extraction helpers over source documents.
//
// Source documents are schemaless bson maps. Field values of interest are
// primitives, timestamps, object identifiers, nested maps, and arrays whose
// elements are either identifiers or embedded sub-documents carrying the
// reference under a named key. Identifiers appear both as ObjectIDs and as
// their canonical hex strings; both forms are accepted everywhere.
package document

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDString renders an identifier value to its canonical string form.
// ObjectIDs become their hex representation; strings pass through.
func IDString(v any) (string, bool) {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex(), true
	case string:
		return id, true
	default:
		return "", false
	}
}

// Get resolves a dotted field path against a document. Intermediate values
// must be nested documents; a missing segment yields (nil, false).
func Get(doc bson.M, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = doc
	for _, seg := range segments {
		m, ok := current.(bson.M)
		if !ok {
			if d, isD := current.(bson.D); isD {
				m = d.Map()
			} else {
				return nil, false
			}
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

// SQLValue converts a document value to its SQL parameter form: identifiers
// are stringified, bson timestamps become time.Time in UTC, scalars pass
// through.
func SQLValue(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.A:
		// Arrays are relationship material, not column material.
		return nil
	case bson.M, bson.D:
		return nil
	default:
		return val
	}
}

// Time coerces a document value to a timestamp, if it is one; bson
// timestamps come out in UTC.
func Time(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time().UTC(), true
	default:
		return time.Time{}, false
	}
}

// RefID extracts a reference identifier from an array element. Elements are
// either bare identifiers or embedded sub-documents; for sub-documents the
// reference is looked up under refKey, then _id.
func RefID(elem any, refKey string) (string, bool) {
	if id, ok := IDString(elem); ok {
		return id, true
	}
	var m bson.M
	switch d := elem.(type) {
	case bson.M:
		m = d
	case bson.D:
		m = d.Map()
	default:
		return "", false
	}
	if refKey != "" {
		if v, ok := m[refKey]; ok {
			if id, ok := IDString(v); ok {
				return id, true
			}
		}
	}
	if v, ok := m["_id"]; ok {
		return IDString(v)
	}
	return "", false
}

// RefTime extracts a per-element timestamp from an embedded array element,
// looked up under dateKey. Bare identifier elements have no timestamp.
func RefTime(elem any, dateKey string) (time.Time, bool) {
	var m bson.M
	switch d := elem.(type) {
	case bson.M:
		m = d
	case bson.D:
		m = d.Map()
	default:
		return time.Time{}, false
	}
	v, ok := m[dateKey]
	if !ok {
		return time.Time{}, false
	}
	return Time(v)
}

// Array coerces a document value to an element slice.
func Array(v any) ([]any, bool) {
	switch a := v.(type) {
	case primitive.A:
		return []any(a), true
	case []any:
		return a, true
	default:
		return nil, false
	}
}
