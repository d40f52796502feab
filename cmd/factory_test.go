package cmd

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
	"github.com/xkilldash9x/emb3d-mapper/internal/config"
	"github.com/xkilldash9x/emb3d-mapper/internal/results"
)

const mappingFixture = `{
  "threats": [
    {
      "id": "TID-101", "text": "Buffer overflow",
      "properties": [{"id": "PID-1", "text": "Weak input validation"}],
      "mitigations": [
        {"id": "MID-001", "text": "Apply bounds checking", "level": "foundational"},
        {"id": "MID-002", "text": "Use safe libraries"}
      ]
    }
  ]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	var cfg config.Config
	require.NoError(t, v.Unmarshal(&cfg))

	dir := t.TempDir()
	source := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(source, []byte(mappingFixture), 0o644))
	cfg.Source.Location = source
	cfg.Output.Path = filepath.Join(dir, "out.csv")
	return &cfg
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestInitializeComponentsWithoutEnrichment(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetcher.Enabled = false
	require.NoError(t, cfg.Validate())

	components, err := initializeComponents(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer components.Shutdown()

	assert.Nil(t, components.Enricher)
	require.Len(t, components.Sinks, 1)

	report, err := results.RunPipeline(context.Background(), components.Adapter, components.Enricher, components.Sinks...)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sinks[0].Rows)

	records := readCSV(t, cfg.Output.Path)
	require.Len(t, records, 3)
	assert.Equal(t, schemas.Columns(), records[0])
	assert.Equal(t, "Foundational", records[1][11])
	assert.Equal(t, "", records[1][4], "enrichment columns stay empty")
}

func TestInitializeComponentsWithEnrichment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/threats/TID-101.html"):
			_, _ = w.Write([]byte(`<h2 id="threat-description">D</h2><p>Overruns a buffer.</p>`))
		case strings.HasSuffix(r.URL.Path, "/mitigations/MID-001.html"):
			_, _ = w.Write([]byte(`<h2 id="description">D</h2><p>Check lengths.</p>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Fetcher.BaseURL = server.URL
	cfg.Fetcher.InitialBackoff = time.Millisecond
	cfg.Fetcher.MaxBackoff = 5 * time.Millisecond
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, cfg.Validate())

	components, err := initializeComponents(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer components.Shutdown()

	require.NotNil(t, components.Enricher)
	require.NotNil(t, components.Cache)

	report, err := results.RunPipeline(context.Background(), components.Adapter, components.Enricher, components.Sinks...)
	require.NoError(t, err)
	assert.Equal(t, []schemas.EntityRef{{Kind: schemas.KindMitigation, ID: "MID-002"}}, report.Degraded)

	records := readCSV(t, cfg.Output.Path)
	require.Len(t, records, 3)
	assert.Equal(t, "Overruns a buffer.", records[1][4])
	assert.Equal(t, "Check lengths.", records[1][12])
	assert.Equal(t, "", records[2][12])
}

func TestInitializeComponentsReleasesOnError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetcher.Enabled = false
	cfg.Output.Format = "ods"

	components, err := initializeComponents(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Nil(t, components)
}

func TestBindFlags(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)

	cmd := newBuildCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"-o", "-", "--workers", "4", "--mode", "bundle"}))
	bindFlags(v, cmd, flagKeys)

	assert.Equal(t, "-", v.GetString("output.path"))
	assert.Equal(t, 4, v.GetInt("fetcher.workers"))
	assert.Equal(t, config.ModeBundle, v.GetString("source.mode"))
	assert.Equal(t, config.FormatCSV, v.GetString("output.format"), "unset flags fall through to defaults")
}
