package usecase

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/DRSN-tech/product-matcher/pkg/e"
)

// payloadShape - одна из известных форм события тикет-системы.
type payloadShape struct {
	name string
	path []string
}

// ticketIDShapes проверяются по порядку, побеждает первая подходящая.
var ticketIDShapes = []payloadShape{
	{name: "detail.id", path: []string{"detail", "id"}},
	{name: "ticket.id", path: []string{"ticket", "id"}},
	{name: "ticket_id", path: []string{"ticket_id"}},
	{name: "id", path: []string{"id"}},
}

// ParseTicketID извлекает идентификатор тикета из тела события.
// Значение может быть числом или строкой из цифр. Если ни одна форма
// не подошла, возвращается *e.PayloadParseError.
func ParseTicketID(body []byte) (int64, error) {
	tried := make([]string, 0, len(ticketIDShapes))
	for _, s := range ticketIDShapes {
		tried = append(tried, s.name)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return 0, &e.PayloadParseError{Tried: tried, Err: err}
	}

	for _, shape := range ticketIDShapes {
		if id, ok := lookupID(root, shape.path); ok {
			return id, nil
		}
	}

	return 0, &e.PayloadParseError{Tried: tried}
}

func lookupID(root map[string]any, path []string) (int64, bool) {
	var cur any = root
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		cur, ok = m[key]
		if !ok {
			return 0, false
		}
	}
	return toPositiveInt(cur)
}

func toPositiveInt(v any) (int64, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, false
	}

	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
