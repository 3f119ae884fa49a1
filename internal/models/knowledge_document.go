package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// DocumentStatus is the lifecycle state of a knowledge document.
type DocumentStatus string

const (
	// StatusIngesting means the document row exists but its chunks are still
	// being extracted, embedded and persisted. The status doubles as an
	// advisory lock against concurrent ingestion of the same upload.
	StatusIngesting DocumentStatus = "ingesting"
	// StatusReady means ingestion finished and at least one chunk is searchable.
	StatusReady DocumentStatus = "ready"
	// StatusFailed means ingestion aborted; LastError holds the reason and no
	// chunks remain persisted.
	StatusFailed DocumentStatus = "failed"
)

// CanTransitionTo reports whether the status state machine allows moving to
// the target state. Transitions are monotonic forward: ingesting may become
// ready or failed (cancel is a failure), nothing leaves ready or failed.
func (s DocumentStatus) CanTransitionTo(target DocumentStatus) bool {
	return s == StatusIngesting && (target == StatusReady || target == StatusFailed)
}

// SourceType identifies the format of an uploaded document.
type SourceType string

const (
	SourcePDF  SourceType = "pdf"
	SourceDOCX SourceType = "docx"
	SourceTXT  SourceType = "txt"
	SourceMD   SourceType = "md"
	SourceCSV  SourceType = "csv"
	// SourceText marks raw pasted text rather than an uploaded file.
	SourceText SourceType = "text-upload"
)

// Scope is the (organization, event) pair restricting who may see a document.
// A nil OrganizationID makes the document visible to every tenant; a non-nil
// EventID narrows visibility further within the organization.
type Scope struct {
	OrganizationID *string `json:"organizationId"`
	EventID        *string `json:"eventId"`
}

// KnowledgeDocument is one uploaded or pasted knowledge source.
type KnowledgeDocument struct {
	ID               string         `gorm:"primaryKey;size:36"`
	Title            string         `gorm:"not null;size:255;index:idx_dedupe"`
	OriginalFilename string         `gorm:"size:255"`
	SourceType       SourceType     `gorm:"not null;size:16"`
	OrganizationID   *string        `gorm:"size:36;index;index:idx_dedupe"`
	EventID          *string        `gorm:"size:36;index"`
	Status           DocumentStatus `gorm:"not null;size:16;index"`
	ByteSize         int64          `gorm:"not null;index:idx_dedupe"`
	Tags             datatypes.JSON // JSON string array, use TagList/SetTagList
	UploaderID       string         `gorm:"not null;size:36"`
	ChunkCount       int            `gorm:"not null;default:0"`
	LastError        *string        `gorm:"size:1024"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Scope returns the document's access scope.
func (d *KnowledgeDocument) Scope() Scope {
	return Scope{OrganizationID: d.OrganizationID, EventID: d.EventID}
}

// TagList returns the document tags as a slice.
func (d *KnowledgeDocument) TagList() []string {
	if len(d.Tags) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(d.Tags, &tags); err != nil || len(tags) == 0 {
		return nil
	}
	return tags
}

// SetTagList stores the given tags verbatim, dropping empty entries. Tags may
// contain any character; they are kept as a JSON array, not a joined string.
func (d *KnowledgeDocument) SetTagList(tags []string) {
	kept := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		d.Tags = nil
		return
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		d.Tags = nil
		return
	}
	d.Tags = datatypes.JSON(raw)
}
