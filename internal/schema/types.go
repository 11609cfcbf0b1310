package schema

import "time"

// Listing is one page of catalog records. Truncated is set when more
// records existed than the configured row cap allowed.
type Listing[T any] struct {
	Items     []T  `json:"items"`
	Truncated bool `json:"truncated"`
}

// ConnectionInfo identifies the server and session behind the pool.
type ConnectionInfo struct {
	ServerVersion   string `json:"server_version"`
	CurrentDatabase string `json:"current_database"`
	LoginName       string `json:"login_name"`
}

// Table describes a user table and its storage footprint.
type Table struct {
	Schema    string `json:"schema"`
	Name      string `json:"name"`
	RowCount  int64  `json:"row_count"`
	SizeBytes int64  `json:"size_bytes"`
	SizeInfo  string `json:"size_info"` // human-readable SizeBytes, e.g. "1.2 MiB"
}

// View describes a user view. Definition is empty for encrypted views.
type View struct {
	Schema     string `json:"schema"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// StoredProcedure describes a user stored procedure.
type StoredProcedure struct {
	Schema     string    `json:"schema"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Trigger describes a DML trigger on a table or view.
type Trigger struct {
	Schema    string `json:"schema"`
	Name      string `json:"name"`
	Table     string `json:"table"`
	EventType string `json:"event_type"` // e.g. "INSERT, UPDATE"
	Enabled   bool   `json:"enabled"`
}

// Function describes a user-defined function. ReturnType is "TABLE" for
// table-valued functions.
type Function struct {
	Schema     string `json:"schema"`
	Name       string `json:"name"`
	ReturnType string `json:"return_type"`
}

// ObjectDefinition is the source text and basic metadata of one object.
// Exists is false when no object of that type and name was found.
type ObjectDefinition struct {
	Schema     string            `json:"schema"`
	Name       string            `json:"name"`
	ObjectType ObjectType        `json:"object_type"`
	Exists     bool              `json:"exists"`
	SQLText    string            `json:"sql_text"`
	Metadata   map[string]string `json:"metadata"`
}

// ColumnSchema describes a single column in a table.
type ColumnSchema struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"` // SQL Server type with length, e.g. nvarchar(50)
	Nullable     bool    `json:"nullable"`
	DefaultValue *string `json:"default_value"` // nil if no default
	Ordinal      int     `json:"ordinal"`
}

// IndexInfo describes an index and its key columns in key order.
type IndexInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Primary bool     `json:"primary"`
}

// ForeignKeyInfo describes one column of a foreign key.
type ForeignKeyInfo struct {
	Name             string `json:"name"`
	Column           string `json:"column"`
	ReferencedSchema string `json:"referenced_schema"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// TableSchema is the full structure of a table. Columns is empty when the
// table does not exist.
type TableSchema struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Columns     []ColumnSchema   `json:"columns"`
	Indexes     []IndexInfo      `json:"indexes"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
}

// QueryResult is the shaped output of an ad-hoc SELECT.
type QueryResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
}
