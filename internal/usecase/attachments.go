package usecase

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/DRSN-tech/product-matcher/internal/domain"
)

// Источники кандидатов-вложений
const (
	SourceCommentAttachment = "comment_attachment"
	sourceCommentURLPrefix  = "comment_"
	sourceAuditURLPrefix    = "audit_"
)

var (
	imageContentTypes = map[string]struct{}{
		"image/jpeg": {}, "image/jpg": {}, "image/png": {}, "image/gif": {}, "image/webp": {},
		"image/bmp": {}, "image/tiff": {}, "image/heic": {},
	}
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".heic"}
	urlPattern      = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)
)

// ExtractImageAttachments собирает кандидатов-изображения тикета:
// структурированные вложения комментариев, ссылки в тексте комментариев
// и ссылки в событиях аудита. Дубликаты по URL отбрасываются.
func ExtractImageAttachments(ticketID int64, comments []domain.Comment, audits []domain.Audit) []domain.Attachment {
	var (
		out  []domain.Attachment
		seen = make(map[string]struct{})
	)

	add := func(a domain.Attachment) {
		u := normalizeContentURL(a.ContentURL)
		if u == "" || !isImageCandidateURL(u) || isNonTicketAsset(u) {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		a.ContentURL = u
		a.TicketID = ticketID
		out = append(out, a)
	}

	for _, c := range comments {
		for _, a := range c.Attachments {
			u := normalizeContentURL(a.ContentURL)
			if u == "" {
				continue
			}
			// Структурированное вложение с image/* принимается при любом виде URL
			if !isImageContentType(a.ContentType) && !isImageCandidateURL(u) {
				continue
			}
			if isNonTicketAsset(u) {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			id := positiveOr(a.ID, stableIDFromURL(u))
			out = append(out, domain.Attachment{
				ID:          id,
				TicketID:    ticketID,
				CommentID:   positiveOr(c.ID, id),
				FileName:    a.FileName,
				ContentType: a.ContentType,
				ContentURL:  u,
				Size:        a.Size,
				Source:      SourceCommentAttachment,
			})
		}
	}

	for _, c := range comments {
		commentID := positiveOr(c.ID, 1)
		fields := []struct {
			name string
			text string
		}{
			{"body", c.Body},
			{"html_body", c.HTMLBody},
			{"plain_body", c.PlainBody},
		}
		for _, f := range fields {
			for _, u := range extractURLs(f.text) {
				add(urlCandidate(u, commentID, sourceCommentURLPrefix+f.name+"_url"))
			}
		}
	}

	for _, audit := range audits {
		auditID := positiveOr(audit.ID, 1)
		for _, ev := range audit.Events {
			eventID := positiveOr(ev.ID, auditID)
			evType := strings.ToLower(ev.Type)
			if evType == "" {
				evType = "event"
			}

			urls := make(map[string]struct{})
			collectURLs(ev.Raw, urls)
			sorted := make([]string, 0, len(urls))
			for u := range urls {
				sorted = append(sorted, u)
			}
			sort.Strings(sorted)

			for _, u := range sorted {
				add(urlCandidate(u, eventID, sourceAuditURLPrefix+evType+"_url"))
			}
		}
	}

	return out
}

func urlCandidate(contentURL string, commentID int64, source string) domain.Attachment {
	contentURL = normalizeContentURL(contentURL)
	id := stableIDFromURL(contentURL)

	name := ""
	if parsed, err := url.Parse(contentURL); err == nil {
		name = path.Base(parsed.Path)
	}
	if name == "" || name == "/" || name == "." {
		name = fmt.Sprintf("%d.jpg", id)
	}

	return domain.Attachment{
		ID:         id,
		CommentID:  positiveOr(commentID, id),
		FileName:   name,
		ContentURL: contentURL,
		Source:     source,
	}
}

func normalizeContentURL(u string) string {
	return strings.Trim(strings.TrimSpace(u), "()[]<>{}\"'`")
}

func extractURLs(text string) []string {
	if text == "" {
		return nil
	}
	found := urlPattern.FindAllString(text, -1)
	out := make([]string, 0, len(found))
	for _, u := range found {
		out = append(out, normalizeContentURL(u))
	}
	return out
}

func collectURLs(v any, out map[string]struct{}) {
	switch t := v.(type) {
	case map[string]any:
		for _, val := range t {
			collectURLs(val, out)
		}
	case []any:
		for _, val := range t {
			collectURLs(val, out)
		}
	case string:
		for _, u := range extractURLs(t) {
			out[u] = struct{}{}
		}
	}
}

func isImageContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return false
	}
	if _, ok := imageContentTypes[ct]; ok {
		return true
	}
	return strings.HasPrefix(ct, "image/")
}

func isImageCandidateURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(parsed.Path)
	if strings.Contains(p, "/sc/attachments/") {
		return true
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// isNonTicketAsset отсекает служебные картинки тикет-системы (аватары по умолчанию).
func isNonTicketAsset(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Host)
	p := strings.ToLower(parsed.Path)
	if strings.Contains(p, "/sc/attachments/") {
		return false
	}
	return strings.Contains(host, "static.zdassets.com") && strings.Contains(p, "default_avatar")
}

// stableIDFromURL - первые 8 байт sha256(url), старший бит сброшен.
func stableIDFromURL(u string) int64 {
	sum := sha256.Sum256([]byte(u))
	v := int64(binary.BigEndian.Uint64(sum[:8]) & (1<<63 - 1))
	if v <= 0 {
		return 1
	}
	return v
}

func positiveOr(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}
