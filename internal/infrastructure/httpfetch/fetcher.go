// Package httpfetch: HTTP-загрузки с повторами для каталога, изображений и тикет-системы.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxRetries = 3
	defaultMaxBytes   = 25 << 20
	defaultUserAgent  = "product-matcher/1.0"
)

// StatusError - ответ с неуспешным HTTP-статусом.
type StatusError struct {
	Code int
	URL  string
}

func (s *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", s.URL, s.Code)
}

// StatusCode возвращает HTTP-статус из цепочки ошибок или 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Fetcher выполняет GET/POST с экспоненциальными повторами на сетевых ошибках, 429 и 5xx.
// Прочие 4xx не повторяются. После исчерпания попыток возвращается *e.UpstreamFetchError.
type Fetcher struct {
	client     *http.Client
	source     string
	maxRetries int
	maxBytes   int64
	initial    time.Duration
	maxDelay   time.Duration
	userAgent  string
}

type Option func(*Fetcher)

func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithBackoff задаёт начальную и максимальную задержку между попытками.
func WithBackoff(initial, max time.Duration) Option {
	return func(f *Fetcher) {
		f.initial = initial
		f.maxDelay = max
	}
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

func New(client *http.Client, source string, opts ...Option) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	f := &Fetcher{
		client:     client,
		source:     source,
		maxRetries: defaultMaxRetries,
		maxBytes:   defaultMaxBytes,
		initial:    500 * time.Millisecond,
		maxDelay:   10 * time.Second,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch скачивает url целиком.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	body, _, err := f.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	return body, err
}

// Do выполняет запрос, построенный newReq, и возвращает тело ответа 2xx.
// newReq вызывается на каждую попытку, чтобы тело запроса читалось заново.
func (f *Fetcher) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, http.Header, error) {
	var (
		body     []byte
		header   http.Header
		attempts int
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initial
	b.MaxInterval = f.maxDelay
	b.MaxElapsedTime = 0

	operation := func() error {
		attempts++

		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", f.userAgent)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			serr := &StatusError{Code: resp.StatusCode, URL: req.URL.Redacted()}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return serr
			}
			return backoff.Permanent(serr)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > f.maxBytes {
			return backoff.Permanent(fmt.Errorf("response from %s exceeds %d bytes", req.URL.Redacted(), f.maxBytes))
		}

		body = data
		header = resp.Header
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		return nil, nil, &e.UpstreamFetchError{Source: f.source, Attempts: attempts, Err: err}
	}

	return body, header, nil
}
