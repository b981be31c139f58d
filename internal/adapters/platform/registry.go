package platform

import (
	"fmt"
	"sort"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

// Registry сопоставляет тег площадки с её источником.
type Registry struct {
	sources map[domain.Platform]domain.Source
}

var _ domain.SourceResolver = (*Registry)(nil)

// NewRegistry регистрирует источники. Повторная регистрация площадки заменяет прежнюю.
func NewRegistry(sources ...domain.Source) *Registry {
	r := &Registry{sources: make(map[domain.Platform]domain.Source, len(sources))}
	for _, s := range sources {
		r.sources[s.Platform()] = s
	}
	return r
}

// Resolve возвращает источник площадки.
func (r *Registry) Resolve(p domain.Platform) (domain.Source, error) {
	s, ok := r.sources[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, p)
	}
	return s, nil
}

// Platforms возвращает зарегистрированные площадки по алфавиту.
func (r *Registry) Platforms() []domain.Platform {
	out := make([]domain.Platform, 0, len(r.sources))
	for p := range r.sources {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
