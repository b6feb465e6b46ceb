package chapter

import "time"

// ReadingStatus is the per-chapter reading state.
type ReadingStatus string

const (
	StatusUnread  ReadingStatus = "unread"
	StatusReading ReadingStatus = "reading"
	StatusRead    ReadingStatus = "read"
)

// ParseReadingStatus converts a string to a ReadingStatus.
// Returns StatusUnread if the string is not recognized.
func ParseReadingStatus(s string) ReadingStatus {
	switch s {
	case "reading":
		return StatusReading
	case "read":
		return StatusRead
	default:
		return StatusUnread
	}
}

// Chapter is a single chapter of a novel.
type Chapter struct {
	ID              int           `json:"id"`
	NovelID         int           `json:"novel_id"`
	URL             string        `json:"url"`
	Title           string        `json:"title"`
	Order           float64       `json:"order"`
	ReleaseDate     string        `json:"release_date,omitempty"`
	ReadingPosition float64       `json:"reading_position"`
	ReadingStatus   ReadingStatus `json:"reading_status"`
	Bookmarked      bool          `json:"bookmarked"`
	IsSaved         bool          `json:"is_saved"`
}

// History records when a chapter was last opened and finished.
type History struct {
	ChapterID int       `json:"chapter_id"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ReadAt    time.Time `json:"read_at,omitempty"`
}

// Type is the content format a novel's chapters are delivered in.
type Type string

const (
	TypeString   Type = "string"
	TypeHTML     Type = "html"
	TypeMarkdown Type = "markdown"
	TypePDF      Type = "pdf"
	TypeEPUB     Type = "epub"
)
