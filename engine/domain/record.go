// Package domain holds the QA record model, validation rules, and the
// error taxonomy shared by the rest of the engine.
package domain

import (
	"github.com/google/uuid"
)

// Payload field names as stored in the vector collection. Delete filters
// match on these exact keys.
const (
	PayloadQuestion = "question"
	PayloadAnswer   = "answer"
)

// QARecord is a single stored question/answer pair. Records are immutable:
// they are created by Add and removed by Delete, never updated in place.
type QARecord struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// NewRecord creates a QARecord with a fresh random id.
func NewRecord(question, answer string) QARecord {
	return QARecord{
		ID:       uuid.NewString(),
		Question: question,
		Answer:   answer,
	}
}

// EmbeddingText returns the text a record's vector is computed from.
// A stored vector must always be re-derivable by embedding this exact
// string.
func (r QARecord) EmbeddingText() string {
	return EmbeddingText(r.Question, r.Answer)
}

// EmbeddingText builds the deterministic concatenation embedded on add.
// Search embeds the raw query instead, without this template.
func EmbeddingText(question, answer string) string {
	return "Question: " + question + " Answer: " + answer
}
