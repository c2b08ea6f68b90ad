package sqlstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/infra/storage"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIdent validates and quotes a table or column name.
func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidIdentifier, name)
	}
	return pq.QuoteIdentifier(name), nil
}

func quoteIdents(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := quoteIdent(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// sortedColumns returns the record keys in a stable order so generated
// statements are identical across calls.
func sortedColumns(row domain.Record) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// buildUpsert renders INSERT ... ON CONFLICT (keys) DO UPDATE for row.
func buildUpsert(table string, row domain.Record, conflictKeys []string) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("insert into %s: empty row", table)
	}
	if len(conflictKeys) == 0 {
		return "", nil, fmt.Errorf("insert into %s: %w", table, ErrNoConflictKeys)
	}
	for _, k := range conflictKeys {
		if !row.Has(k) {
			return "", nil, fmt.Errorf("insert into %s: conflict key %q missing from row", table, k)
		}
	}

	qt, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	cols := sortedColumns(row)
	qcols, err := quoteIdents(cols)
	if err != nil {
		return "", nil, err
	}
	qkeys, err := quoteIdents(conflictKeys)
	if err != nil {
		return "", nil, err
	}

	isKey := make(map[string]bool, len(conflictKeys))
	for _, k := range conflictKeys {
		isKey[k] = true
	}
	var sets []string
	for i, c := range cols {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", qcols[i], qcols[i]))
		}
	}

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = bindValue(row[c])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		qt, strings.Join(qcols, ", "), placeholders(len(cols)), strings.Join(qkeys, ", "))
	if len(sets) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	return b.String(), args, nil
}

// buildUpdate renders UPDATE table SET ... WHERE (where).
func buildUpdate(table string, patch domain.Record, where storage.Where) (string, []any, error) {
	if len(patch) == 0 {
		return "", nil, fmt.Errorf("update %s: empty patch", table)
	}
	if strings.TrimSpace(where.Clause) == "" {
		return "", nil, fmt.Errorf("update %s: %w", table, ErrEmptyWhere)
	}
	qt, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	cols := sortedColumns(patch)
	qcols, err := quoteIdents(cols)
	if err != nil {
		return "", nil, err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(where.Args))
	for i, c := range cols {
		sets[i] = qcols[i] + " = ?"
		args = append(args, bindValue(patch[c]))
	}
	args = append(args, bindArgs(where.Args)...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE (%s)", qt, strings.Join(sets, ", "), where.Clause)
	return query, args, nil
}

// buildDelete renders DELETE FROM table WHERE (where).
func buildDelete(table string, where storage.Where) (string, []any, error) {
	if strings.TrimSpace(where.Clause) == "" {
		return "", nil, fmt.Errorf("delete from %s: %w", table, ErrEmptyWhere)
	}
	qt, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE (%s)", qt, where.Clause), bindArgs(where.Args), nil
}

// buildSelect renders SELECT * FROM table WHERE (where).
func buildSelect(table string, where storage.Where) (string, []any, error) {
	qt, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE (%s)", qt, where.Clause), bindArgs(where.Args), nil
}

// keyCondition matches the row identified by keys, taking values from row.
func keyCondition(keys []string, row domain.Record) (storage.Where, error) {
	parts := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		q, err := quoteIdent(k)
		if err != nil {
			return storage.Where{}, err
		}
		v, ok := row[k]
		if !ok {
			return storage.Where{}, fmt.Errorf("key column %q missing from row", k)
		}
		parts[i] = q + " = ?"
		args[i] = bindValue(v)
	}
	return storage.Where{Clause: strings.Join(parts, " AND "), Args: args}, nil
}
