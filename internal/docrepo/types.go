package docrepo

type RetrievalScope string

const (
	ScopeRepository RetrievalScope = "repository"
	ScopeDocument   RetrievalScope = "document"
	ScopeSection    RetrievalScope = "section"
	ScopeChunk      RetrievalScope = "chunk"
)

type TokenFillStrategy string

const (
	FillDefault    TokenFillStrategy = "default"
	FillChunkFirst TokenFillStrategy = "chunk_first"
	FillSection    TokenFillStrategy = "fill_section"
	FillDocument   TokenFillStrategy = "fill_document"
)

type DocumentStatus string

const (
	DocumentUploaded DocumentStatus = "uploaded"
	DocumentIndexed  DocumentStatus = "indexed"
	DocumentError    DocumentStatus = "error"
	DocumentDeleted  DocumentStatus = "deleted"
)

type SearchRequest struct {
	RequestID         string            `json:"requestId"`
	RepositoryID      string            `json:"repositoryId"`
	DocumentIDs       []string          `json:"documentIds,omitempty"`
	DesiredTokens     int               `json:"desiredTokens,omitempty"`
	MaxTokens         int               `json:"maxTokens,omitempty"`
	TokenFillStrategy TokenFillStrategy `json:"tokenFillStrategy,omitempty"`
	RetrievalScope    RetrievalScope    `json:"retrievalScope,omitempty"`
	Query             string            `json:"query"`
}

type SearchResponse struct {
	RequestID    string  `json:"requestId"`
	RepositoryID string  `json:"repositoryId"`
	Distance     float64 `json:"distance"`
	Result       string  `json:"result"`
}

// SearchResult is what a repository answers a query with. Lower distances
// are closer matches.
type SearchResult struct {
	Result   string
	Distance float64
}

// DocumentData announces a document that was uploaded to or deleted from a
// repository.
type DocumentData struct {
	ID           string         `json:"id"`
	RepositoryID string         `json:"repositoryId"`
	Name         string         `json:"name"`
	Format       string         `json:"format,omitempty"`
	Location     string         `json:"location,omitempty"`
	Status       DocumentStatus `json:"status"`
	Size         int64          `json:"size,omitempty"`
	Hash         string         `json:"hash,omitempty"`
	ExternalID   string         `json:"externalId,omitempty"`
}
