package corpus

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

// Source implements ports.Searcher over several providers. Each provider is
// queried concurrently; results are concatenated in configuration order so the
// aggregator's first-writer-wins rule stays deterministic.
type Source struct {
	providers []Provider
	logger    *zap.Logger
}

var _ ports.Searcher = (*Source)(nil)

// NewSource resolves the configured provider names against reg.
func NewSource(reg *Registry, names []string, logger *zap.Logger) (*Source, error) {
	if reg == nil {
		return nil, fmt.Errorf("provider registry is not configured")
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no search providers configured", domain.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{logger: logger.With(zap.String("component", "corpus"))}
	for _, name := range names {
		p, err := reg.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
		s.providers = append(s.providers, p)
	}
	return s, nil
}

// Search runs query on every provider. A provider failure is logged and
// skipped; only when all providers fail is an error returned.
func (s *Source) Search(ctx context.Context, query string, maxResults int) ([]domain.Item, error) {
	if len(s.providers) == 1 {
		return s.providers[0].Search(ctx, query, maxResults)
	}

	results := make([][]domain.Item, len(s.providers))
	errs := make([]error, len(s.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.providers {
		g.Go(func() error {
			items, err := p.Search(gctx, query, maxResults)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
				return nil
			}
			for j := range items {
				if items[j].Source == "" {
					items[j].Source = p.Name()
				}
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	if err := context.Cause(ctx); err != nil {
		return nil, err
	}

	var out []domain.Item
	failed := 0
	for i, items := range results {
		if errs[i] != nil {
			failed++
			s.logger.Warn("provider search failed", zap.String("query", query), zap.Error(errs[i]))
			continue
		}
		s.logger.Debug("provider produced items",
			zap.String("provider", s.providers[i].Name()),
			zap.Int("count", len(items)),
		)
		out = append(out, items...)
	}
	if failed == len(s.providers) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
