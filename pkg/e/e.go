package e

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// Внутренние ошибки с векторами
	ErrEmptyVectors         = fmt.Errorf("empty vectors")
	ErrVectorEmbeddingEmpty = fmt.Errorf("vector embedding is empty")
	ErrDimensionMismatch    = fmt.Errorf("vector dimension mismatch")

	// Индекс
	ErrIndexNotReady        = fmt.Errorf("index is not ready")
	ErrNoArtifact           = fmt.Errorf("no index artifact available")
	ErrModelVersionMismatch = fmt.Errorf("encoder model version does not match index model version")
	ErrBuildSuperseded      = fmt.Errorf("index build superseded by a newer request")
	ErrCorruptArtifact      = fmt.Errorf("corrupt index artifact")
	ErrIndexVersionNotFound = fmt.Errorf("index version not found")

	// Обработка вложений
	ErrDuplicateAttachment = fmt.Errorf("attachment already processed")
	ErrAttachmentInFlight  = fmt.Errorf("attachment is being processed by another worker")
	ErrWriteBack           = fmt.Errorf("write-back to ticket failed")
	ErrInvalidSignature    = fmt.Errorf("invalid webhook signature")

	// Каталог
	ErrEmptyCatalog      = fmt.Errorf("catalog source returned no products")
	ErrSourceUnavailable = fmt.Errorf("catalog source is not configured")
	ErrInvalidPrice      = fmt.Errorf("invalid price")
	ErrGraphQL           = fmt.Errorf("graphql query failed")

	// 400 Bad Request
	ErrStatusBadRequest     = fmt.Errorf("bad request")
	ErrExpectedMultipart    = fmt.Errorf("expected multipart/form-data")
	ErrNoImages             = fmt.Errorf("no images provided")
	ErrFileTooLarge         = fmt.Errorf("file too large")
	ErrUnsupportedMediaType = fmt.Errorf("unsupported media type")
	ErrInvalidID            = fmt.Errorf("invalid id")
	ErrMissingFields        = fmt.Errorf("missing required fields")

	// 404
	ErrNotFound = fmt.Errorf("not found")

	// 500
	ErrInternalServerError = fmt.Errorf("internal server error")

	// Конфигурация
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect environment variable")
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// UpstreamFetchError - внешний источник (каталог, тикет-система, загрузка картинки) недоступен
// после исчерпания всех попыток.
type UpstreamFetchError struct {
	Source   string
	Attempts int
	Err      error
}

func (u *UpstreamFetchError) Error() string {
	return fmt.Sprintf("upstream %s unavailable after %d attempt(s): %v", u.Source, u.Attempts, u.Err)
}

func (u *UpstreamFetchError) Unwrap() error { return u.Err }

// ImageDecodeError - повреждённое или неподдерживаемое изображение.
type ImageDecodeError struct {
	Reason string
	Err    error
}

func (i *ImageDecodeError) Error() string {
	if i.Err == nil {
		return "image decode: " + i.Reason
	}
	return fmt.Sprintf("image decode: %s: %v", i.Reason, i.Err)
}

func (i *ImageDecodeError) Unwrap() error { return i.Err }

// ConfigurationError - отсутствуют обязательные параметры; компонент отказывается стартовать.
type ConfigurationError struct {
	Component string
	Missing   []string
	Reason    string
}

func (c *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error in ")
	b.WriteString(c.Component)
	if len(c.Missing) > 0 {
		b.WriteString(": missing ")
		b.WriteString(strings.Join(c.Missing, ", "))
	}
	if c.Reason != "" {
		b.WriteString(": ")
		b.WriteString(c.Reason)
	}
	return b.String()
}

// PayloadParseError - ни одна из известных схем события не содержит идентификатор тикета.
type PayloadParseError struct {
	Tried []string
	Err   error
}

func (p *PayloadParseError) Error() string {
	msg := "ticket id not found in payload (tried: " + strings.Join(p.Tried, ", ") + ")"
	if p.Err != nil {
		msg += ": " + p.Err.Error()
	}
	return msg
}

func (p *PayloadParseError) Unwrap() error { return p.Err }

// IsImageDecode сообщает, является ли ошибка ошибкой декодирования изображения.
func IsImageDecode(err error) bool {
	var target *ImageDecodeError
	return errors.As(err, &target)
}

// IsUpstream сообщает, вызвана ли ошибка недоступностью внешнего источника.
func IsUpstream(err error) bool {
	var target *UpstreamFetchError
	return errors.As(err, &target)
}

// IsConfiguration сообщает, является ли ошибка ошибкой конфигурации.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target) || errors.Is(err, ErrModelVersionMismatch)
}

// IsPayloadParse сообщает, является ли ошибка ошибкой разбора входящего события.
func IsPayloadParse(err error) bool {
	var target *PayloadParseError
	return errors.As(err, &target)
}
