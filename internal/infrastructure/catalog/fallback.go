package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
)

// Fallback опрашивает источники по порядку и отдаёт результат первого,
// вернувшего хотя бы один товар. Частичный результат не приводит к переходу дальше.
type Fallback struct {
	sources []usecase.CatalogSource
	logger  logger.Logger

	mu   sync.Mutex
	last string
}

func NewFallback(logger logger.Logger, sources ...usecase.CatalogSource) *Fallback {
	f := &Fallback{sources: sources, logger: logger}
	if len(sources) > 0 {
		f.last = sources[0].Name()
	}
	return f
}

// Name - имя источника, ответившего последним.
func (f *Fallback) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *Fallback) FetchProducts(ctx context.Context) ([]domain.Product, error) {
	const op = "Fallback.FetchProducts"

	if len(f.sources) == 0 {
		return nil, e.Wrap(op, e.ErrSourceUnavailable)
	}

	var errs []error
	for _, src := range f.sources {
		products, err := src.FetchProducts(ctx)
		if len(products) > 0 {
			f.setLast(src.Name())
			return products, err
		}
		if ctx.Err() != nil {
			return nil, e.Wrap(op, ctx.Err())
		}
		if err == nil {
			err = e.ErrEmptyCatalog
		}
		f.logger.Warnf("catalog source %s unusable, trying next: %v", src.Name(), err)
		errs = append(errs, err)
	}

	f.setLast(f.sources[len(f.sources)-1].Name())
	return nil, e.Wrap(op, errors.Join(errs...))
}

func (f *Fallback) setLast(name string) {
	f.mu.Lock()
	f.last = name
	f.mu.Unlock()
}
