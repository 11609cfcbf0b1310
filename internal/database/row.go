package database

import "github.com/koustreak/mssqlgate/internal/errs"

// Collect reads rows through scan until the result set ends or limit rows
// have been read. When a row exists past the limit, truncated is true and
// iteration stops there; the remainder is never read. A negative limit reads
// everything.
//
// The returned slice is always non-nil. Collect always closes rows.
func Collect[T any](rows Rows, limit int, scan func(Rows) (T, error)) (items []T, truncated bool, err error) {
	defer rows.Close()

	items = make([]T, 0)
	for rows.Next() {
		if limit >= 0 && len(items) >= limit {
			truncated = true
			break
		}
		item, err := scan(rows)
		if err != nil {
			return nil, false, queryErr("failed to scan row", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, false, queryErr("error during row iteration", err)
	}
	return items, truncated, nil
}

// ScanRows reads up to limit rows and returns them as maps keyed by column
// name, plus the ordered column list. Values are Go-native, except []byte
// which is returned as string so results serialize as text.
//
// ScanRows always closes the Rows.
func ScanRows(rows Rows, limit int) (columns []string, result []map[string]any, truncated bool, err error) {
	columns, err = rows.Columns()
	if err != nil {
		rows.Close()
		return nil, nil, false, queryErr("failed to read column names", err)
	}

	result, truncated, err = Collect(rows, limit, func(r Rows) (map[string]any, error) {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := r.Scan(destPtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(dest[i])
		}
		return row, nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return columns, result, truncated, nil
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// queryErr keeps already-classified errors and wraps anything else as a
// query failure.
func queryErr(msg string, err error) error {
	if errs.KindOf(err) != errs.ErrKindUnknown {
		return err
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
