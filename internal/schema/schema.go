package schema

import (
	"context"
	"strings"
)

// Reader is the interface for introspecting a database catalog
type Reader interface {
	// ConnectionInfo reports the server version, database and login in use
	ConnectionInfo(ctx context.Context) (ConnectionInfo, error)

	// ListTables returns all user tables across every user schema
	ListTables(ctx context.Context) (Listing[Table], error)

	ListViews(ctx context.Context) (Listing[View], error)
	ListStoredProcedures(ctx context.Context) (Listing[StoredProcedure], error)
	ListTriggers(ctx context.Context) (Listing[Trigger], error)
	ListFunctions(ctx context.Context) (Listing[Function], error)

	// InspectTable returns columns, indexes and foreign keys for a table.
	// A missing table yields empty Columns, not an error.
	InspectTable(ctx context.Context, schema, table string) (TableSchema, error)

	// ObjectDefinition returns the source of one object of the given type.
	// A missing object yields Exists=false, not an error.
	ObjectDefinition(ctx context.Context, schema, name string, typ ObjectType) (ObjectDefinition, error)
}

// ObjectType is the closed set of object kinds ObjectDefinition accepts.
type ObjectType string

const (
	ObjectTable     ObjectType = "table"
	ObjectView      ObjectType = "view"
	ObjectProcedure ObjectType = "procedure"
	ObjectFunction  ObjectType = "function"
	ObjectTrigger   ObjectType = "trigger"
)

// ObjectTypes lists every accepted ObjectType in documentation order.
var ObjectTypes = []ObjectType{ObjectTable, ObjectView, ObjectProcedure, ObjectFunction, ObjectTrigger}

// ParseObjectType matches s case-insensitively against ObjectTypes.
func ParseObjectType(s string) (ObjectType, bool) {
	for _, t := range ObjectTypes {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, true
		}
	}
	return "", false
}

// sysTypes maps each ObjectType to its sys.objects type codes.
var sysTypes = map[ObjectType]string{
	ObjectTable:     `'U'`,
	ObjectView:      `'V'`,
	ObjectProcedure: `'P', 'PC'`,
	ObjectFunction:  `'FN', 'IF', 'TF', 'FS', 'FT'`,
	ObjectTrigger:   `'TR', 'TA'`,
}
