package reporting

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
	"github.com/xkilldash9x/emb3d-mapper/internal/config"
	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

// Stdout is the output path that streams to standard output.
const Stdout = "-"

type writeFunc func(ctx context.Context, w io.Writer, rows iter.Seq[schemas.OutputRow]) (int, error)

// FileSink writes rows to a file in one of the supported formats. The file is
// written beside its destination and renamed into place once complete, so a
// failed run never leaves a truncated table behind.
type FileSink struct {
	path   string
	format string
	write  writeFunc
	stdout io.Writer
	logger *zap.Logger
}

var _ RowSink = (*FileSink)(nil)

// NewFileSink returns a sink for format ("csv", "json" or "xlsx") writing to path.
func NewFileSink(path, format string, logger *zap.Logger) (*FileSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var write writeFunc
	switch format {
	case config.FormatCSV:
		write = WriteCSV
	case config.FormatJSON:
		write = WriteJSON
	case config.FormatXLSX:
		write = WriteXLSX
	default:
		return nil, &pipelineerr.ConfigurationError{Field: "output.format", Reason: fmt.Sprintf("unsupported format %q", format)}
	}
	if path == "" {
		return nil, &pipelineerr.ConfigurationError{Field: "output.path", Reason: "output path is required"}
	}

	return &FileSink{
		path:   path,
		format: format,
		write:  write,
		stdout: os.Stdout,
		logger: logger.Named("file_sink"),
	}, nil
}

// Name identifies the sink in logs and run reports.
func (s *FileSink) Name() string {
	return s.format + ":" + s.path
}

// WriteRows writes every row of the sequence.
func (s *FileSink) WriteRows(ctx context.Context, _ string, rows iter.Seq[schemas.OutputRow]) (int, error) {
	if s.path == Stdout {
		bw := bufio.NewWriter(s.stdout)
		n, err := s.write(ctx, bw, rows)
		if err != nil {
			return n, err
		}
		return n, bw.Flush()
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	n, err := s.write(ctx, bw, rows)
	if err != nil {
		return n, err
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("write output file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return n, fmt.Errorf("set output file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return n, fmt.Errorf("move output file into place: %w", err)
	}
	committed = true

	if info, err := os.Stat(s.path); err == nil {
		s.logger.Info("Wrote output table",
			zap.String("path", s.path),
			zap.Int("rows", n),
			zap.Float64("size_kib", float64(info.Size())/1024),
		)
	}
	return n, nil
}
