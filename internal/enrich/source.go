package enrich

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// Getter retrieves a remote document. *network.Client satisfies it.
type Getter interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DocumentCache is the optional local store consulted before the network.
// *cache.DocumentCache satisfies it.
type DocumentCache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Put(ctx context.Context, url string, body []byte) error
}

// HTTPSource serves entity pages from the EMB3D site layout:
// <base>/threats/<id>.html and <base>/mitigations/<id>.html.
type HTTPSource struct {
	base   string
	getter Getter
	cache  DocumentCache
	logger *zap.Logger
}

// NewHTTPSource creates a source rooted at base. cache may be nil.
func NewHTTPSource(base string, getter Getter, cache DocumentCache, logger *zap.Logger) *HTTPSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSource{
		base:   strings.TrimRight(base, "/"),
		getter: getter,
		cache:  cache,
		logger: logger.Named("http_source"),
	}
}

// URL returns the document location for ref.
func (s *HTTPSource) URL(ref schemas.EntityRef) (string, error) {
	var dir string
	switch ref.Kind {
	case schemas.KindThreat:
		dir = "threats"
	case schemas.KindMitigation:
		dir = "mitigations"
	default:
		return "", fmt.Errorf("no document layout for entity kind %q", ref.Kind)
	}
	return fmt.Sprintf("%s/%s/%s.html", s.base, dir, ref.ID), nil
}

// Document returns the page for ref, from the cache when it holds a fresh copy.
func (s *HTTPSource) Document(ctx context.Context, ref schemas.EntityRef) ([]byte, error) {
	url, err := s.URL(ref)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		body, ok, err := s.cache.Get(ctx, url)
		if err != nil {
			s.logger.Warn("Document cache read failed", zap.String("url", url), zap.Error(err))
		} else if ok {
			s.logger.Debug("Document cache hit", zap.String("url", url))
			return body, nil
		}
	}

	body, err := s.getter.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, url, body); err != nil {
			s.logger.Warn("Document cache write failed", zap.String("url", url), zap.Error(err))
		}
	}
	return body, nil
}
