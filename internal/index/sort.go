package index

// SortField names one of the closed set of sortable columns. Anything
// outside the set is coerced to SortMTime; field names are mapped to
// column expressions here and never interpolated from caller input.
type SortField string

const (
	SortMTime  SortField = "mtime"
	SortName   SortField = "name"
	SortAspect SortField = "aspect_ratio"
	SortRating SortField = "rating"
	SortSize   SortField = "size"
	SortCTime  SortField = "ctime"
	SortRandom SortField = "random"
)

type SortDirection string

const (
	Ascending  SortDirection = "ASC"
	Descending SortDirection = "DESC"
)

// Sort describes an ordering over the items table. Seed only matters
// for SortRandom: the same seed yields the same permutation across
// pagination calls, so shuffle browsing stays stable within a session.
type Sort struct {
	Field     SortField
	Direction SortDirection
	Seed      int64
}

// DefaultSort is newest-first, matching what the browser shows on open.
func DefaultSort() Sort {
	return Sort{Field: SortMTime, Direction: Descending}
}

var sortColumns = map[SortField]string{
	SortMTime:  "items.mtime",
	SortName:   "items.path",
	SortAspect: "items.aspect_ratio",
	SortRating: "items.rating",
	SortSize:   "items.size",
	SortCTime:  "items.ctime",
}

// Normalize coerces unknown fields and directions to safe defaults.
func (s Sort) Normalize() Sort {
	if _, ok := sortColumns[s.Field]; !ok && s.Field != SortRandom {
		s.Field = SortMTime
	}
	if s.Direction != Ascending && s.Direction != Descending {
		s.Direction = Descending
	}
	return s
}

// orderClause renders the ORDER BY fragment plus its bound arguments.
// The shuffle order hashes row identity with the seed entirely inside
// the query, so every page of one shuffled session agrees on the
// permutation. The trailing id keeps ties stable.
func (s Sort) orderClause() (string, []any) {
	s = s.Normalize()
	if s.Field == SortRandom {
		return "ORDER BY ((items.id * 2654435761 + ?) & 0x7fffffffffffffff) % 1000000007, items.id", []any{s.Seed}
	}
	return "ORDER BY " + sortColumns[s.Field] + " " + string(s.Direction) + ", items.id", nil
}
