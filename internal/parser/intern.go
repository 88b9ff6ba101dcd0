package parser

// maxInternPoolSize caps the pool; tables with many distinct strings stop
// sharing once it is reached.
const maxInternPoolSize = 100000

// maxInternLen keeps long free text out of the pool. Only short categorical
// values repeat often enough to be worth sharing.
const maxInternLen = 64

// cellIntern deduplicates repeated string cells within one parse so a
// column like "status" holds a handful of strings instead of one per row.
// It is not safe for concurrent use; each Parse call owns its own.
type cellIntern struct {
	pool map[string]string
}

func newCellIntern() *cellIntern {
	return &cellIntern{pool: make(map[string]string, 1024)}
}

// cell types raw like Cell and returns the pooled copy of string values.
func (ci *cellIntern) cell(raw string) any {
	v := Cell(raw)
	s, ok := v.(string)
	if !ok {
		return v
	}
	return ci.intern(s)
}

func (ci *cellIntern) intern(s string) string {
	if len(s) > maxInternLen {
		return s
	}
	if pooled, ok := ci.pool[s]; ok {
		return pooled
	}
	if len(ci.pool) >= maxInternPoolSize {
		return s
	}
	ci.pool[s] = s
	return s
}

func (ci *cellIntern) len() int {
	return len(ci.pool)
}
