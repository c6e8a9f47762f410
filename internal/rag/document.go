// Package rag holds the bank's document corpus and a keyword index over it.
//
// The corpus is loaded once at startup from a local file or directory, or
// from an s3://bucket/key object, split into overlapping passages and indexed
// for BM25 ranking. Search is safe for concurrent use.
package rag

// Document is one retrievable passage.
type Document struct {
	// Source names the file the passage came from.
	Source string `json:"source"`

	// Page is the page number for paginated sources, empty otherwise.
	Page string `json:"page,omitempty"`

	// Content is the passage text.
	Content string `json:"page_content"`
}

// Result is a ranked search hit.
type Result struct {
	Document
	Score float64 `json:"score"`
}
