package semantic

// VectorRecord is a QA pair ready to be persisted with its embedding.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Question  string
	Answer    string
}

// SearchResult is a single similarity hit. Internal vectors are never
// surfaced past this package.
type SearchResult struct {
	ID       string  `json:"id"`
	Score    float32 `json:"score"`
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
}

// StoredRecord is the payload-only view returned by full scans.
type StoredRecord struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
