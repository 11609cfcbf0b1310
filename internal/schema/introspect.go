package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/koustreak/mssqlgate/internal/database"
)

// userObjects restricts catalog queries to objects users created.
const userObjects = `is_ms_shipped = 0 AND s.name NOT IN (N'sys', N'INFORMATION_SCHEMA')`

// Introspector implements Reader for SQL Server using the sys catalog views.
type Introspector struct {
	h     database.Handle
	limit int
}

var _ Reader = (*Introspector)(nil)

// NewIntrospector returns an introspector issuing queries over h. List
// operations return at most limit records; a negative limit is unbounded.
func NewIntrospector(h database.Handle, limit int) *Introspector {
	return &Introspector{h: h, limit: limit}
}

// ConnectionInfo runs a fixed metadata query against the current session.
func (p *Introspector) ConnectionInfo(ctx context.Context) (ConnectionInfo, error) {
	const q = `
		SELECT
			CAST(@@VERSION AS nvarchar(4000)) AS server_version,
			DB_NAME()                         AS current_database,
			SUSER_SNAME()                     AS login_name`

	rows, err := p.h.Query(ctx, q)
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("connection info: %w", err)
	}
	infos, _, err := database.Collect(rows, 1, func(r database.Rows) (ConnectionInfo, error) {
		var info ConnectionInfo
		err := r.Scan(&info.ServerVersion, &info.CurrentDatabase, &info.LoginName)
		return info, err
	})
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("scan connection info: %w", err)
	}
	if len(infos) == 0 {
		return ConnectionInfo{}, nil
	}
	return infos[0], nil
}

// ListTables returns user tables with their row count and reserved size
func (p *Introspector) ListTables(ctx context.Context) (Listing[Table], error) {
	const q = `
		SELECT TOP (@top)
			s.name AS schema_name,
			t.name AS table_name,
			COALESCE((
				SELECT SUM(p.rows)
				FROM sys.partitions p
				WHERE p.object_id = t.object_id AND p.index_id IN (0, 1)
			), 0) AS row_count,
			COALESCE((
				SELECT SUM(a.total_pages)
				FROM sys.partitions p
				JOIN sys.allocation_units a ON a.container_id = p.partition_id
				WHERE p.object_id = t.object_id
			), 0) * 8192 AS size_bytes
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE t.` + userObjects + `
		ORDER BY s.name, t.name`

	return list(ctx, p, "tables", q, func(r database.Rows) (Table, error) {
		var t Table
		if err := r.Scan(&t.Schema, &t.Name, &t.RowCount, &t.SizeBytes); err != nil {
			return t, err
		}
		t.SizeInfo = humanize.IBytes(uint64(max(t.SizeBytes, 0)))
		return t, nil
	})
}

// ListViews returns user views with their source definition
func (p *Introspector) ListViews(ctx context.Context) (Listing[View], error) {
	const q = `
		SELECT TOP (@top)
			s.name                        AS schema_name,
			v.name                        AS view_name,
			COALESCE(m.definition, N'')   AS definition
		FROM sys.views v
		JOIN sys.schemas s ON s.schema_id = v.schema_id
		LEFT JOIN sys.sql_modules m ON m.object_id = v.object_id
		WHERE v.` + userObjects + `
		ORDER BY s.name, v.name`

	return list(ctx, p, "views", q, func(r database.Rows) (View, error) {
		var v View
		err := r.Scan(&v.Schema, &v.Name, &v.Definition)
		return v, err
	})
}

// ListStoredProcedures returns user procedures with creation timestamps
func (p *Introspector) ListStoredProcedures(ctx context.Context) (Listing[StoredProcedure], error) {
	const q = `
		SELECT TOP (@top)
			s.name        AS schema_name,
			pr.name       AS procedure_name,
			pr.create_date,
			pr.modify_date
		FROM sys.procedures pr
		JOIN sys.schemas s ON s.schema_id = pr.schema_id
		WHERE pr.` + userObjects + `
		ORDER BY s.name, pr.name`

	return list(ctx, p, "stored procedures", q, func(r database.Rows) (StoredProcedure, error) {
		var sp StoredProcedure
		err := r.Scan(&sp.Schema, &sp.Name, &sp.CreatedAt, &sp.ModifiedAt)
		return sp, err
	})
}

// ListTriggers returns DML triggers on user tables and views
func (p *Introspector) ListTriggers(ctx context.Context) (Listing[Trigger], error) {
	const q = `
		SELECT TOP (@top)
			s.name   AS schema_name,
			tr.name  AS trigger_name,
			o.name   AS table_name,
			COALESCE((
				SELECT STRING_AGG(te.type_desc, N', ') WITHIN GROUP (ORDER BY te.type_desc)
				FROM sys.trigger_events te
				WHERE te.object_id = tr.object_id
			), N'') AS event_type,
			CAST(CASE WHEN tr.is_disabled = 0 THEN 1 ELSE 0 END AS bit) AS enabled
		FROM sys.triggers tr
		JOIN sys.objects o ON o.object_id = tr.parent_id
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		WHERE tr.parent_class = 1
		  AND tr.` + userObjects + `
		ORDER BY s.name, tr.name`

	return list(ctx, p, "triggers", q, func(r database.Rows) (Trigger, error) {
		var t Trigger
		err := r.Scan(&t.Schema, &t.Name, &t.Table, &t.EventType, &t.Enabled)
		return t, err
	})
}

// ListFunctions returns scalar and table-valued user functions
func (p *Introspector) ListFunctions(ctx context.Context) (Listing[Function], error) {
	const q = `
		SELECT TOP (@top)
			s.name AS schema_name,
			o.name AS function_name,
			CASE
				WHEN o.type IN ('IF', 'TF', 'FT') THEN N'TABLE'
				ELSE COALESCE((
					SELECT TYPE_NAME(pa.user_type_id)
					FROM sys.parameters pa
					WHERE pa.object_id = o.object_id AND pa.parameter_id = 0
				), N'')
			END AS return_type
		FROM sys.objects o
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		WHERE o.type IN ('FN', 'IF', 'TF', 'FS', 'FT')
		  AND o.` + userObjects + `
		ORDER BY s.name, o.name`

	return list(ctx, p, "functions", q, func(r database.Rows) (Function, error) {
		var f Function
		err := r.Scan(&f.Schema, &f.Name, &f.ReturnType)
		return f, err
	})
}

// InspectTable returns column, index and foreign key details for a table or
// view. Indexes and foreign keys are only looked up when columns exist, and
// then concurrently.
func (p *Introspector) InspectTable(ctx context.Context, schema, table string) (TableSchema, error) {
	info := TableSchema{
		Schema:      schema,
		Name:        table,
		Columns:     []ColumnSchema{},
		Indexes:     []IndexInfo{},
		ForeignKeys: []ForeignKeyInfo{},
	}

	cols, err := p.columns(ctx, schema, table)
	if err != nil {
		return info, err
	}
	if len(cols) == 0 {
		return info, nil
	}
	info.Columns = cols

	var (
		indexes []IndexInfo
		fks     []ForeignKeyInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		indexes, err = p.indexes(gctx, schema, table)
		return err
	})
	g.Go(func() (err error) {
		fks, err = p.foreignKeys(gctx, schema, table)
		return err
	})
	if err := g.Wait(); err != nil {
		return info, err
	}
	info.Indexes = indexes
	info.ForeignKeys = fks
	return info, nil
}

func (p *Introspector) columns(ctx context.Context, schema, table string) ([]ColumnSchema, error) {
	const q = `
		SELECT
			c.name,
			TYPE_NAME(c.user_type_id) AS type_name,
			c.max_length,
			c.precision,
			c.scale,
			c.is_nullable,
			dc.definition             AS default_value,
			c.column_id
		FROM sys.columns c
		JOIN sys.objects o ON o.object_id = c.object_id AND o.type IN ('U', 'V')
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		LEFT JOIN sys.default_constraints dc ON dc.object_id = c.default_object_id
		WHERE s.name = @schema AND o.name = @table
		ORDER BY c.column_id`

	rows, err := p.h.Query(ctx, q, sql.Named("schema", schema), sql.Named("table", table))
	if err != nil {
		return nil, fmt.Errorf("inspect table %s.%s: %w", schema, table, err)
	}
	cols, _, err := database.Collect(rows, -1, func(r database.Rows) (ColumnSchema, error) {
		var col ColumnSchema
		var typeName string
		var maxLength, precision, scale int
		if err := r.Scan(
			&col.Name,
			&typeName,
			&maxLength,
			&precision,
			&scale,
			&col.Nullable,
			&col.DefaultValue,
			&col.Ordinal,
		); err != nil {
			return col, err
		}
		col.Type = FormatType(typeName, maxLength, precision, scale)
		return col, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan column: %w", err)
	}
	return cols, nil
}

func (p *Introspector) indexes(ctx context.Context, schema, table string) ([]IndexInfo, error) {
	const q = `
		SELECT
			i.name,
			i.is_unique,
			i.is_primary_key,
			col.name AS column_name
		FROM sys.indexes i
		JOIN sys.index_columns ic
			ON ic.object_id = i.object_id
			AND ic.index_id = i.index_id
			AND ic.is_included_column = 0
		JOIN sys.columns col ON col.object_id = ic.object_id AND col.column_id = ic.column_id
		JOIN sys.objects o ON o.object_id = i.object_id
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		WHERE s.name = @schema AND o.name = @table AND i.type > 0
		ORDER BY i.name, ic.key_ordinal`

	type indexColumn struct {
		index   string
		unique  bool
		primary bool
		column  string
	}

	rows, err := p.h.Query(ctx, q, sql.Named("schema", schema), sql.Named("table", table))
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	flat, _, err := database.Collect(rows, -1, func(r database.Rows) (indexColumn, error) {
		var ic indexColumn
		err := r.Scan(&ic.index, &ic.unique, &ic.primary, &ic.column)
		return ic, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}

	// Rows arrive grouped by index name; fold them in order.
	indexes := []IndexInfo{}
	for _, ic := range flat {
		if n := len(indexes); n > 0 && indexes[n-1].Name == ic.index {
			indexes[n-1].Columns = append(indexes[n-1].Columns, ic.column)
			continue
		}
		indexes = append(indexes, IndexInfo{
			Name:    ic.index,
			Columns: []string{ic.column},
			Unique:  ic.unique,
			Primary: ic.primary,
		})
	}
	return indexes, nil
}

func (p *Introspector) foreignKeys(ctx context.Context, schema, table string) ([]ForeignKeyInfo, error) {
	const q = `
		SELECT
			fk.name,
			pc.name AS column_name,
			rs.name AS referenced_schema,
			rt.name AS referenced_table,
			rc.name AS referenced_column
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN sys.columns pc
			ON pc.object_id = fkc.parent_object_id
			AND pc.column_id = fkc.parent_column_id
		JOIN sys.columns rc
			ON rc.object_id = fkc.referenced_object_id
			AND rc.column_id = fkc.referenced_column_id
		JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
		JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
		JOIN sys.tables t ON t.object_id = fk.parent_object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name = @schema AND t.name = @table
		ORDER BY fk.name, fkc.constraint_column_id`

	rows, err := p.h.Query(ctx, q, sql.Named("schema", schema), sql.Named("table", table))
	if err != nil {
		return nil, fmt.Errorf("list foreign keys: %w", err)
	}
	fks, _, err := database.Collect(rows, -1, func(r database.Rows) (ForeignKeyInfo, error) {
		var fk ForeignKeyInfo
		err := r.Scan(&fk.Name, &fk.Column, &fk.ReferencedSchema, &fk.ReferencedTable, &fk.ReferencedColumn)
		return fk, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan foreign key: %w", err)
	}
	return fks, nil
}

// ObjectDefinition returns the module text of a view, procedure, function
// or trigger. Tables have no stored source, so a CREATE TABLE script is
// assembled from their column and key metadata.
func (p *Introspector) ObjectDefinition(ctx context.Context, schema, name string, typ ObjectType) (ObjectDefinition, error) {
	// The IN list comes from sysTypes, never from the caller.
	q := fmt.Sprintf(`
		SELECT
			o.type_desc,
			o.create_date,
			o.modify_date,
			OBJECT_DEFINITION(o.object_id) AS definition
		FROM sys.objects o
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		WHERE s.name = @schema AND o.name = @name AND o.type IN (%s)`, sysTypes[typ])

	def := ObjectDefinition{Schema: schema, Name: name, ObjectType: typ, Metadata: map[string]string{}}

	type objectRow struct {
		typeDesc   string
		created    time.Time
		modified   time.Time
		definition *string
	}

	rows, err := p.h.Query(ctx, q, sql.Named("schema", schema), sql.Named("name", name))
	if err != nil {
		return def, fmt.Errorf("object definition %s.%s: %w", schema, name, err)
	}
	found, _, err := database.Collect(rows, 1, func(r database.Rows) (objectRow, error) {
		var o objectRow
		err := r.Scan(&o.typeDesc, &o.created, &o.modified, &o.definition)
		return o, err
	})
	if err != nil {
		return def, fmt.Errorf("scan object definition: %w", err)
	}
	if len(found) == 0 {
		return def, nil
	}

	obj := found[0]
	def.Exists = true
	def.Metadata["type_desc"] = obj.typeDesc
	def.Metadata["created_at"] = obj.created.UTC().Format(time.RFC3339)
	def.Metadata["modified_at"] = obj.modified.UTC().Format(time.RFC3339)
	if obj.definition != nil {
		def.SQLText = *obj.definition
	}

	if typ == ObjectTable {
		ts, err := p.InspectTable(ctx, schema, name)
		if err != nil {
			return def, err
		}
		def.SQLText = CreateTableScript(ts)
	}
	return def, nil
}

// list runs a catalog listing capped at the introspector's limit.
func list[T any](ctx context.Context, p *Introspector, what, q string, scan func(database.Rows) (T, error)) (Listing[T], error) {
	top := p.limit + 1
	if p.limit < 0 {
		top = maxTop
	}

	rows, err := p.h.Query(ctx, q, sql.Named("top", top))
	if err != nil {
		return Listing[T]{}, fmt.Errorf("list %s: %w", what, err)
	}
	items, truncated, err := database.Collect(rows, p.limit, scan)
	if err != nil {
		return Listing[T]{}, fmt.Errorf("scan %s: %w", what, err)
	}
	return Listing[T]{Items: items, Truncated: truncated}, nil
}

// maxTop is TOP's ceiling for an int parameter.
const maxTop = 2147483647

// FormatType renders a sys.columns type the way it is written in DDL.
// Lengths for n-types are stored in bytes and halved here.
func FormatType(name string, maxLength, precision, scale int) string {
	switch strings.ToLower(name) {
	case "varchar", "char", "varbinary", "binary":
		return name + "(" + lengthOf(maxLength) + ")"
	case "nvarchar", "nchar":
		if maxLength > 0 {
			maxLength /= 2
		}
		return name + "(" + lengthOf(maxLength) + ")"
	case "decimal", "numeric":
		return fmt.Sprintf("%s(%d,%d)", name, precision, scale)
	case "datetime2", "time", "datetimeoffset":
		return fmt.Sprintf("%s(%d)", name, scale)
	default:
		return name
	}
}

func lengthOf(n int) string {
	if n == -1 {
		return "max"
	}
	return strconv.Itoa(n)
}

// CreateTableScript assembles a CREATE TABLE statement for ts, including its
// primary key. Other indexes and foreign keys are left out.
func CreateTableScript(ts TableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s.%s (\n", quoteName(ts.Schema), quoteName(ts.Name))

	lines := make([]string, 0, len(ts.Columns)+1)
	for _, c := range ts.Columns {
		line := "    " + quoteName(c.Name) + " " + c.Type
		if c.Nullable {
			line += " NULL"
		} else {
			line += " NOT NULL"
		}
		if c.DefaultValue != nil {
			line += " DEFAULT " + *c.DefaultValue
		}
		lines = append(lines, line)
	}
	for _, idx := range ts.Indexes {
		if !idx.Primary {
			continue
		}
		quoted := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			quoted[i] = quoteName(c)
		}
		lines = append(lines, fmt.Sprintf("    CONSTRAINT %s PRIMARY KEY (%s)",
			quoteName(idx.Name), strings.Join(quoted, ", ")))
	}

	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);")
	return b.String()
}

// quoteName brackets an identifier the way QUOTENAME does.
func quoteName(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}
