package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/internal/config"
	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

// Getter retrieves a remote document. *network.Client satisfies it.
type Getter interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Locate returns the location of the primary document. A configured
// directory takes precedence and is searched with Discover.
func Locate(cfg config.SourceConfig) (string, error) {
	if cfg.Dir == "" {
		if cfg.Location == "" {
			return "", &pipelineerr.ConfigurationError{Field: "source.location", Reason: "no source location configured"}
		}
		return cfg.Location, nil
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil || !info.IsDir() {
		return "", &pipelineerr.ConfigurationError{Field: "source.dir", Reason: fmt.Sprintf("%q is not a readable directory", cfg.Dir)}
	}

	name, err := Discover(os.DirFS(cfg.Dir), cfg.Glob)
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.Dir, filepath.FromSlash(name)), nil
}

// IsRemote reports whether location names an HTTP(S) resource.
func IsRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ReadPayload retrieves the primary document from a URL or a local path.
func ReadPayload(ctx context.Context, location string, getter Getter, logger *zap.Logger) ([]byte, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if IsRemote(location) {
		if getter == nil {
			return nil, &pipelineerr.ConfigurationError{Field: "source.location", Reason: "remote source requires an HTTP client"}
		}
		logger.Info("Downloading source document", zap.String("url", location))
		body, err := getter.Fetch(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("failed to download source document: %w", err)
		}
		return body, nil
	}

	logger.Info("Reading source document", zap.String("path", location))
	body, err := os.ReadFile(location)
	if err != nil {
		return nil, &pipelineerr.ConfigurationError{Field: "source.location", Reason: err.Error()}
	}
	return body, nil
}

// Open locates, reads and wraps the primary document in the adapter for cfg.Mode.
func Open(ctx context.Context, cfg config.SourceConfig, getter Getter, logger *zap.Logger) (Adapter, string, error) {
	location, err := Locate(cfg)
	if err != nil {
		return nil, "", err
	}
	payload, err := ReadPayload(ctx, location, getter, logger)
	if err != nil {
		return nil, location, err
	}
	adapter, err := New(cfg.Mode, payload, logger)
	if err != nil {
		return nil, location, err
	}
	return adapter, location, nil
}
