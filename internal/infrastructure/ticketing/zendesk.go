// Package ticketing: клиент Zendesk: комментарии, аудит, вложения и внутренние заметки.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/httpfetch"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	sourceName = "ticketing"
	maxPages   = 100
)

// Zendesk ходит в REST API v2 под токеном агента.
// Все вызовы идут через общий circuit breaker и ограничитель частоты.
type Zendesk struct {
	fetcher     *httpfetch.Fetcher
	attachments *httpfetch.Fetcher
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	baseURL     *url.URL
	email       string
	token       string
	logger      logger.Logger
}

// Config - параметры клиента. BaseURL по умолчанию https://<subdomain>.zendesk.com.
type Config struct {
	BaseURL           string
	Subdomain         string
	Email             string
	APIToken          string
	RequestsPerSecond float64
	BreakerTimeout    time.Duration
}

func NewZendesk(cfg Config, fetcher, attachments *httpfetch.Fetcher, logger logger.Logger) (*Zendesk, error) {
	raw := cfg.BaseURL
	if raw == "" {
		if cfg.Subdomain == "" {
			return nil, &e.ConfigurationError{Component: sourceName, Missing: []string{"ZENDESK_SUBDOMAIN"}}
		}
		raw = fmt.Sprintf("https://%s.zendesk.com", cfg.Subdomain)
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, &e.ConfigurationError{Component: sourceName, Reason: err.Error()}
	}

	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "zendesk",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Ответы 4xx говорят о запросе, а не о доступности сервиса
			code := httpfetch.StatusCode(err)
			return code >= 400 && code < 500 && code != http.StatusTooManyRequests
		},
	})

	return &Zendesk{
		fetcher:     fetcher,
		attachments: attachments,
		breaker:     breaker,
		limiter:     rate.NewLimiter(limit, 1),
		baseURL:     base,
		email:       cfg.Email,
		token:       cfg.APIToken,
		logger:      logger,
	}, nil
}

type commentsPage struct {
	Comments []struct {
		ID          int64  `json:"id"`
		Body        string `json:"body"`
		HTMLBody    string `json:"html_body"`
		PlainBody   string `json:"plain_body"`
		Attachments []struct {
			ID          int64  `json:"id"`
			FileName    string `json:"file_name"`
			ContentType string `json:"content_type"`
			ContentURL  string `json:"content_url"`
			Size        int64  `json:"size"`
		} `json:"attachments"`
	} `json:"comments"`
	NextPage *string `json:"next_page"`
}

type auditsPage struct {
	Audits []struct {
		ID     int64            `json:"id"`
		Events []map[string]any `json:"events"`
	} `json:"audits"`
	NextPage *string `json:"next_page"`
}

func (z *Zendesk) ListComments(ctx context.Context, ticketID int64) ([]domain.Comment, error) {
	const op = "Zendesk.ListComments"

	var out []domain.Comment
	next := z.apiURL(fmt.Sprintf("/api/v2/tickets/%d/comments.json", ticketID))
	for page := 0; next != "" && page < maxPages; page++ {
		var p commentsPage
		if err := z.getJSON(ctx, next, &p); err != nil {
			return nil, e.Wrap(op, err)
		}
		for _, c := range p.Comments {
			comment := domain.Comment{ID: c.ID, Body: c.Body, HTMLBody: c.HTMLBody, PlainBody: c.PlainBody}
			for _, a := range c.Attachments {
				comment.Attachments = append(comment.Attachments, domain.CommentAttachment{
					ID:          a.ID,
					FileName:    a.FileName,
					ContentType: a.ContentType,
					ContentURL:  a.ContentURL,
					Size:        a.Size,
				})
			}
			out = append(out, comment)
		}
		next = deref(p.NextPage)
	}
	return out, nil
}

func (z *Zendesk) ListAudits(ctx context.Context, ticketID int64) ([]domain.Audit, error) {
	const op = "Zendesk.ListAudits"

	var out []domain.Audit
	next := z.apiURL(fmt.Sprintf("/api/v2/tickets/%d/audits.json", ticketID))
	for page := 0; next != "" && page < maxPages; page++ {
		var p auditsPage
		if err := z.getJSON(ctx, next, &p); err != nil {
			return nil, e.Wrap(op, err)
		}
		for _, a := range p.Audits {
			audit := domain.Audit{ID: a.ID}
			for _, raw := range a.Events {
				ev := domain.AuditEvent{Raw: raw}
				if id, ok := raw["id"].(float64); ok {
					ev.ID = int64(id)
				}
				ev.Type, _ = raw["type"].(string)
				audit.Events = append(audit.Events, ev)
			}
			out = append(out, audit)
		}
		next = deref(p.NextPage)
	}
	return out, nil
}

// DownloadAttachment скачивает вложение. Учётные данные передаются только хостам Zendesk.
func (z *Zendesk) DownloadAttachment(ctx context.Context, contentURL string) ([]byte, error) {
	const op = "Zendesk.DownloadAttachment"

	u, err := url.Parse(contentURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, e.Wrap(op, &e.UpstreamFetchError{Source: sourceName, Err: fmt.Errorf("invalid attachment url %q", contentURL)})
	}
	withAuth := z.trustedHost(u.Hostname())

	res, err := z.breaker.Execute(func() (any, error) {
		body, _, err := z.attachments.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
			if err != nil {
				return nil, err
			}
			if withAuth {
				req.SetBasicAuth(z.email+"/token", z.token)
			}
			return req, nil
		})
		return body, err
	})
	if err != nil {
		return nil, e.Wrap(op, z.breakerErr(err))
	}
	return res.([]byte), nil
}

// AddInternalNote добавляет приватный комментарий к тикету.
func (z *Zendesk) AddInternalNote(ctx context.Context, ticketID int64, body string) error {
	const op = "Zendesk.AddInternalNote"

	payload, err := json.Marshal(map[string]any{
		"ticket": map[string]any{
			"comment": map[string]any{"body": body, "public": false},
		},
	})
	if err != nil {
		return e.Wrap(op, err)
	}

	if err := z.limiter.Wait(ctx); err != nil {
		return e.Wrap(op, err)
	}
	endpoint := z.apiURL(fmt.Sprintf("/api/v2/tickets/%d.json", ticketID))
	_, err = z.breaker.Execute(func() (any, error) {
		_, _, err := z.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.SetBasicAuth(z.email+"/token", z.token)
			return req, nil
		})
		return nil, err
	})
	if err != nil {
		return e.Wrap(op, z.breakerErr(err))
	}
	return nil
}

func (z *Zendesk) getJSON(ctx context.Context, endpoint string, dst any) error {
	if err := z.limiter.Wait(ctx); err != nil {
		return err
	}

	res, err := z.breaker.Execute(func() (any, error) {
		body, _, err := z.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/json")
			req.SetBasicAuth(z.email+"/token", z.token)
			return req, nil
		})
		return body, err
	})
	if err != nil {
		return z.breakerErr(err)
	}

	if err := json.Unmarshal(res.([]byte), dst); err != nil {
		return &e.UpstreamFetchError{Source: sourceName, Attempts: 1, Err: fmt.Errorf("decode %s: %w", endpoint, err)}
	}
	return nil
}

// breakerErr приводит отказ открытого breaker к ошибке недоступности источника.
func (z *Zendesk) breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &e.UpstreamFetchError{Source: sourceName, Err: err}
	}
	return err
}

func (z *Zendesk) apiURL(path string) string {
	return z.baseURL.String() + path
}

func (z *Zendesk) trustedHost(host string) bool {
	host = strings.ToLower(host)
	return host == strings.ToLower(z.baseURL.Hostname()) ||
		strings.HasSuffix(host, ".zendesk.com") ||
		strings.HasSuffix(host, ".zdusercontent.com")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
