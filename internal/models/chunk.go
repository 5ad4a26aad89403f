package models

// ChunkMeta describes how one chunk was cut out of its chapter.
type ChunkMeta struct {
	Index                 int    `json:"index"`
	Strategy              string `json:"strategy"`
	ApproxTokens          int    `json:"approx_tokens"`
	MaxTokens             int    `json:"max_tokens"`
	OverlapTokens         int    `json:"overlap_tokens"`
	StartParagraph        int    `json:"start_paragraph"`
	EndParagraphExclusive int    `json:"end_paragraph_exclusive"`
	TextSHA256            string `json:"text_sha256"`
}

// ChunkRecord is the persisted unit: one embedding-input text window plus
// enough provenance to trace it back to its exact paragraph span.
type ChunkRecord struct {
	ChunkID string    `json:"chunk_id"`
	Book    Book      `json:"book"`
	Chapter Chapter   `json:"chapter"`
	Chunk   ChunkMeta `json:"chunk"`
	Text    string    `json:"text"`
}

// PendingChunk is the projection of a stored chunk that still needs an
// embedding vector.
type PendingChunk struct {
	ChunkID string
	Text    string
}
