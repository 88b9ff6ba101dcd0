package parser

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/marcboeker/go-duckdb"
	"github.com/stepdash/backend/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrUnknownColumn is returned when a grid query sorts by a column the table does not have.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrTableClosed is returned by operations on a closed table.
	ErrTableClosed = errors.New("table is closed")
)

// DuckOptions tunes the embedded DuckDB instance.
type DuckOptions struct {
	Threads     int
	MemoryLimit string
}

// DuckTable keeps one uploaded table in a temporary DuckDB file in long
// format (one row per cell) and serves the paged, sorted and searchable
// grid view from it.
type DuckTable struct {
	mu       sync.RWMutex
	db       *sql.DB
	dbPath   string
	columns  []string
	rowCount int
	log      *zap.Logger

	// Semaphore to limit concurrent queries
	querySem chan struct{}
}

// GridQuery selects one page of the grid view. Page is 1-based.
type GridQuery struct {
	Page       int
	PageSize   int
	SortColumn string
	Descending bool
	Search     string
}

// GridPage is one page of rows with their positions in the original table.
type GridPage struct {
	Columns    []string     `json:"columns" msgpack:"columns"`
	Rows       []models.Row `json:"rows" msgpack:"rows"`
	RowIndexes []int        `json:"rowIndexes" msgpack:"rowIndexes"`
	Total      int          `json:"total" msgpack:"total"`
	Page       int          `json:"page" msgpack:"page"`
	PageSize   int          `json:"pageSize" msgpack:"pageSize"`
	TotalPages int          `json:"totalPages" msgpack:"totalPages"`
}

// Cell type tags stored in val_type.
const (
	valTypeBool   = 0
	valTypeInt    = 1
	valTypeFloat  = 2
	valTypeString = 3
	valTypeNull   = 4
	valTypeAbsent = 5
)

// NewDuckTable creates an empty table database in tempDir.
func NewDuckTable(tempDir, fileID string, opts DuckOptions, log *zap.Logger) (*DuckTable, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dbPath := filepath.Join(tempDir, fmt.Sprintf("table_%s.duckdb", fileID))
	log = log.With(zap.String("file", fileID))

	threads := opts.Threads
	if threads <= 0 {
		threads = 2
	}
	memLimit := opts.MemoryLimit
	if memLimit == "" {
		memLimit = "512MB"
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", memLimit),
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE cells (
			row_idx  INTEGER NOT NULL,
			col_idx  INTEGER NOT NULL,
			val_type TINYINT NOT NULL,
			val_bool BOOLEAN NOT NULL,
			val_int  BIGINT  NOT NULL,
			val_num  DOUBLE  NOT NULL,
			val_str  VARCHAR NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		os.Remove(dbPath)
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	log.Debug("duck table created", zap.String("path", dbPath))
	return &DuckTable{
		db:       db,
		dbPath:   dbPath,
		log:      log,
		querySem: make(chan struct{}, 3),
	}, nil
}

// Load replaces the table contents with t.
func (dt *DuckTable) Load(ctx context.Context, t *models.Table) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	if dt.db == nil {
		return ErrTableClosed
	}

	if _, err := dt.db.ExecContext(ctx, "DELETE FROM cells"); err != nil {
		return fmt.Errorf("clearing cells: %w", err)
	}

	conn, err := dt.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "cells")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for r, row := range t.Rows {
			for c, col := range t.Columns {
				v, present := row[col]
				vt, vb, vi, vn, vs := encodeCell(v, present)
				if err := appender.AppendRow(int32(r), int32(c), int8(vt), vb, vi, vn, vs); err != nil {
					return fmt.Errorf("failed to append row %d: %w", r, err)
				}
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	dt.columns = append([]string(nil), t.Columns...)
	dt.rowCount = len(t.Rows)
	dt.log.Debug("duck table loaded", zap.Int("rows", dt.rowCount), zap.Int("columns", len(dt.columns)))
	return nil
}

// Len returns the number of rows loaded.
func (dt *DuckTable) Len() int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.rowCount
}

// Query returns one page of the grid.
func (dt *DuckTable) Query(ctx context.Context, q GridQuery) (*GridPage, error) {
	select {
	case dt.querySem <- struct{}{}:
		defer func() { <-dt.querySem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	dt.mu.RLock()
	defer dt.mu.RUnlock()
	if dt.db == nil {
		return nil, ErrTableClosed
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 50
	}
	offset := (q.Page - 1) * q.PageSize

	sortCol := -1
	if q.SortColumn != "" {
		for i, c := range dt.columns {
			if c == q.SortColumn {
				sortCol = i
				break
			}
		}
		if sortCol < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, q.SortColumn)
		}
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	searchClause := ""
	var searchArgs []interface{}
	if search != "" {
		searchClause = fmt.Sprintf("row_idx IN (SELECT row_idx FROM cells WHERE val_type < %d AND contains(lower(val_str), ?))", valTypeNull)
		searchArgs = append(searchArgs, search)
	}

	total := dt.rowCount
	if search != "" {
		row := dt.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT row_idx) FROM cells WHERE "+searchClause, searchArgs...)
		if err := row.Scan(&total); err != nil {
			return nil, fmt.Errorf("counting matches: %w", err)
		}
	}

	ids, err := dt.pageRowIDs(ctx, sortCol, q.Descending, searchClause, searchArgs, q.PageSize, offset)
	if err != nil {
		return nil, err
	}
	rows, err := dt.fetchRows(ctx, ids)
	if err != nil {
		return nil, err
	}

	return &GridPage{
		Columns:    append([]string(nil), dt.columns...),
		Rows:       rows,
		RowIndexes: ids,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(q.PageSize))),
	}, nil
}

func (dt *DuckTable) pageRowIDs(ctx context.Context, sortCol int, desc bool, searchClause string, searchArgs []interface{}, limit, offset int) ([]int, error) {
	if sortCol < 0 && searchClause == "" {
		ids := make([]int, 0, limit)
		for i := offset; i < dt.rowCount && i < offset+limit; i++ {
			ids = append(ids, i)
		}
		return ids, nil
	}

	var query string
	args := append([]interface{}(nil), searchArgs...)
	if sortCol < 0 {
		query = "SELECT DISTINCT row_idx FROM cells WHERE " + searchClause + " ORDER BY row_idx LIMIT ? OFFSET ?"
	} else {
		dir := "ASC"
		if desc {
			dir = "DESC"
		}
		where := "col_idx = ?"
		args = append([]interface{}{sortCol}, args...)
		if searchClause != "" {
			where += " AND " + searchClause
		}
		// Numbers first, then booleans, then text, then nulls, whatever the direction.
		query = fmt.Sprintf(`SELECT row_idx FROM cells WHERE %s
			ORDER BY CASE val_type WHEN %d THEN 0 WHEN %d THEN 0 WHEN %d THEN 1 WHEN %d THEN 2 ELSE 3 END,
			val_num %s, val_str %s, row_idx
			LIMIT ? OFFSET ?`,
			where, valTypeInt, valTypeFloat, valTypeBool, valTypeString, dir, dir)
	}
	args = append(args, limit, offset)

	rows, err := dt.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting page: %w", err)
	}
	defer rows.Close()

	ids := make([]int, 0, limit)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (dt *DuckTable) fetchRows(ctx context.Context, ids []int) ([]models.Row, error) {
	out := make([]models.Row, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pos := make(map[int]int, len(ids))
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		pos[id] = i
		placeholders[i] = "?"
		args[i] = id
		out[i] = make(models.Row, len(dt.columns))
	}

	rows, err := dt.db.QueryContext(ctx,
		"SELECT row_idx, col_idx, val_type, val_bool, val_int, val_num, val_str FROM cells WHERE row_idx IN ("+
			strings.Join(placeholders, ", ")+")", args...)
	if err != nil {
		return nil, fmt.Errorf("fetching rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rowIdx, colIdx, valType int
			vb                      bool
			vi                      int64
			vn                      float64
			vs                      string
		)
		if err := rows.Scan(&rowIdx, &colIdx, &valType, &vb, &vi, &vn, &vs); err != nil {
			return nil, err
		}
		if valType == valTypeAbsent || colIdx >= len(dt.columns) {
			continue
		}
		out[pos[rowIdx]][dt.columns[colIdx]] = decodeCell(valType, vb, vi, vn, vs)
	}
	return out, rows.Err()
}

// Close closes the database and removes the temp file
func (dt *DuckTable) Close() error {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	if dt.db != nil {
		dt.db.Close()
		dt.db = nil
	}
	if dt.dbPath != "" {
		os.Remove(dt.dbPath)
		os.Remove(dt.dbPath + ".wal")
	}
	return nil
}

func encodeCell(val interface{}, present bool) (valType int, valBool bool, valInt int64, valNum float64, valStr string) {
	if !present {
		return valTypeAbsent, false, 0, 0, ""
	}
	switch v := val.(type) {
	case nil:
		return valTypeNull, false, 0, 0, ""
	case bool:
		return valTypeBool, v, 0, boolNum(v), strconv.FormatBool(v)
	case int:
		return valTypeInt, false, int64(v), float64(v), strconv.Itoa(v)
	case int64:
		return valTypeInt, false, v, float64(v), strconv.FormatInt(v, 10)
	case float64:
		return valTypeFloat, false, 0, v, strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return valTypeString, false, 0, 0, v
	default:
		return valTypeString, false, 0, 0, fmt.Sprintf("%v", val)
	}
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func decodeCell(valType int, valBool bool, valInt int64, valNum float64, valStr string) interface{} {
	switch valType {
	case valTypeBool:
		return valBool
	case valTypeInt:
		return valInt
	case valTypeFloat:
		return valNum
	case valTypeNull:
		return nil
	default:
		return valStr
	}
}
