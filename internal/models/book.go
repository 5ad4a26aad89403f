package models

import "time"

// Book holds book-level provenance. The same values are denormalized into
// every chunk record of the book.
type Book struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Language    string    `json:"language"`
	Publisher   string    `json:"publisher"`
	ISBN        string    `json:"isbn"`
	SourcePath  string    `json:"source_path"`
	ExtractedAt time.Time `json:"extracted_at"`

	Chapters []Chapter `json:"-"`
}

// Chapter is one reading-order unit of a book. Text is only populated
// during extraction and never persisted.
type Chapter struct {
	Order int    `json:"order"`
	ID    string `json:"id"`
	Title string `json:"title"`
	File  string `json:"file"`
	Href  string `json:"href,omitempty"`

	Text string `json:"-"`
}
