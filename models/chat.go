package models

import "time"

// ChatRole tells user questions and assistant answers apart.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatTurn is one entry in the append-only chat history.
type ChatTurn struct {
	Role      ChatRole   `bson:"role" json:"role"`
	Text      string     `bson:"text" json:"text"`
	Citations []Citation `bson:"citations,omitempty" json:"citations,omitempty"`
	Grounded  bool       `bson:"grounded" json:"grounded"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
}

// AskRequest is the body of POST /api/chat/ask
type AskRequest struct {
	Question string `json:"question" binding:"required,min=1,max=4000"`
}

// AskResponse carries the synthesized answer and its citations.
type AskResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Grounded  bool       `json:"grounded"`
}

// WebSourceRequest is the body of POST /api/sources/web
type WebSourceRequest struct {
	URL string `json:"url" binding:"required"`
}

// IngestStatus values reported for each uploaded item.
const (
	IngestStatusIngested         = "ingested"
	IngestStatusAlreadyProcessed = "already_processed"
	IngestStatusQueued           = "queued"
)

// IngestResponse reports the outcome of ingesting one item.
type IngestResponse struct {
	Source Source `json:"source"`
	Status string `json:"status"`
	TaskID string `json:"task_id,omitempty"`
}

// SourceListResponse is returned by GET /api/sources
type SourceListResponse struct {
	Sources     []Source `json:"sources"`
	TotalChunks int      `json:"total_chunks"`
}

// WorkspaceSnapshot is the persisted form of a workspace.
type WorkspaceSnapshot struct {
	WorkspaceID string       `bson:"_id" json:"workspace_id"`
	Revision    uint64       `bson:"revision" json:"revision"`
	Dimension   int          `bson:"dimension" json:"dimension"`
	Sources     []Source     `bson:"sources" json:"sources"`
	EntryCount  int          `bson:"entry_count" json:"entry_count"`
	Entries     []IndexEntry `bson:"-" json:"entries"`
	Turns       []ChatTurn   `bson:"turns" json:"turns"`
	SavedAt     time.Time    `bson:"saved_at" json:"saved_at"`
}
