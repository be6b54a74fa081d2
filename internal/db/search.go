package db

import "github.com/newsiq/newsengine/internal/db/filter"

// VectorField is the hash field every vector index stores its embedding under.
const VectorField = "vector"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string // nil returns every hash field
}

// ListQuery is the input for filtered, sorted, paginated search without a vector.
type ListQuery struct {
	IndexName    string
	Filters      filter.Expression
	Offset       int
	Limit        int
	SortBy       string
	SortDesc     bool
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64 // cosine similarity in [0,1] for KNN, zero otherwise
	Fields map[string]string
}
