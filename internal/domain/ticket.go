package domain

import "time"

// TicketImage - изображение-вложение из тикета. Создаётся один раз на attachment_id.
type TicketImage struct {
	ID                   int64
	AttachmentID         int64
	TicketID             int64
	CommentID            int64
	ContentURL           string
	ContentHash          string
	Source               string
	DecodeError          *string // Вложение не удалось декодировать, предсказания нет
	GroundTruthProductID *string
	GroundTruthURL       *string
	LabelSource          *string
	LabeledAt            *time.Time
	CreatedAt            time.Time
}

// Attachment - кандидат на обработку, извлечённый из комментариев и аудита тикета.
type Attachment struct {
	ID          int64
	TicketID    int64
	CommentID   int64
	FileName    string
	ContentType string
	ContentURL  string
	Size        int64
	Source      string
}

// Comment - комментарий тикета в том виде, в каком его отдаёт тикет-система.
type Comment struct {
	ID          int64
	Body        string
	HTMLBody    string
	PlainBody   string
	Attachments []CommentAttachment
}

type CommentAttachment struct {
	ID          int64
	FileName    string
	ContentType string
	ContentURL  string
	Size        int64
}

// Audit - запись аудита тикета. События хранятся в сыром виде.
type Audit struct {
	ID     int64
	Events []AuditEvent
}

type AuditEvent struct {
	ID   int64
	Type string
	Raw  map[string]any
}
