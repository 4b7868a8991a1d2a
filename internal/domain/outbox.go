package domain

import (
	"time"

	"github.com/google/uuid"
)

const EventTypeTicketAttachments = "ticket.attachments"

// Статусы события в outbox
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
)

// OutboxEvent - строка таблицы outbox_events.
type OutboxEvent struct {
	ID          int64
	EventID     uuid.UUID
	EventType   string
	TicketID    int64
	Payload     []byte
	Status      string
	Attempts    int
	LastError   *string
	AvailableAt time.Time
	CreatedAt   time.Time
}

// TicketEvent - полезная нагрузка события, уходящая в очередь.
type TicketEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	TicketID      int64     `json:"ticket_id"`
	CorrelationID string    `json:"correlation_id"`
	Attempt       int       `json:"attempt"`
	Source        string    `json:"source"`
	ReceivedAt    time.Time `json:"received_at"`
}

func NewTicketEvent(ticketID int64, correlationID, source string) *TicketEvent {
	return &TicketEvent{
		EventID:       uuid.New(),
		TicketID:      ticketID,
		CorrelationID: correlationID,
		Source:        source,
		ReceivedAt:    time.Now().UTC(),
	}
}
