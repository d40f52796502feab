// Package source normalizes the two upstream EMB3D encodings into a schemas.Graph.
//
// The hierarchical form is the pre-joined mapping document published on the
// EMB3D site; the bundle form is a STIX-style object list with explicit
// relationship edges. Callers pick one with New and never see the difference.
package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
	"github.com/xkilldash9x/emb3d-mapper/internal/config"
	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

// Adapter turns a primary source document into the common graph.
type Adapter interface {
	Load(ctx context.Context) (*schemas.Graph, error)
}

var (
	_ Adapter = (*HierarchicalAdapter)(nil)
	_ Adapter = (*BundleAdapter)(nil)
)

// New returns the adapter for mode over an already retrieved payload.
func New(mode string, payload []byte, logger *zap.Logger) (Adapter, error) {
	switch mode {
	case config.ModeJSON:
		return NewHierarchical(payload, logger), nil
	case config.ModeBundle:
		return NewBundle(payload, logger), nil
	default:
		return nil, &pipelineerr.ConfigurationError{
			Field:  "source.mode",
			Reason: fmt.Sprintf("unsupported mode %q (want %q or %q)", mode, config.ModeJSON, config.ModeBundle),
		}
	}
}
