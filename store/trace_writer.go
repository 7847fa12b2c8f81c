package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
)

// TraceWriter streams move records of many games into one parquet file
// under outDir/tmp and moves it into outDir on Finalize.
type TraceWriter struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[MoveRecord]

	games int
	rows  int
}

func NewTraceWriter(outDir string) (*TraceWriter, error) {
	if outDir == "" {
		return nil, errors.New("outDir is required")
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("trace_%d.parquet", time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	return &TraceWriter{
		tmpPath: tmpPath,
		outPath: filepath.Join(absOut, name),
		file:    f,
		writer:  parquet.NewGenericWriter[MoveRecord](f, traceWriterOptions()...),
	}, nil
}

func (w *TraceWriter) OutPath() string { return w.outPath }
func (w *TraceWriter) Games() int      { return w.games }
func (w *TraceWriter) Rows() int       { return w.rows }

// WriteGame appends the records of one finished game.
func (w *TraceWriter) WriteGame(rows []MoveRecord) error {
	if w.writer == nil {
		return errors.New("trace writer is closed")
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := w.writer.Write(rows); err != nil {
		return err
	}
	w.rows += len(rows)
	w.games++
	return nil
}

// Finalize closes the file and renames it into place. An empty trace is
// removed and reported with an empty path.
func (w *TraceWriter) Finalize() (outPath string, rows int, games int, err error) {
	if w.writer == nil {
		return "", 0, 0, nil
	}
	closeErr := w.writer.Close()
	w.writer = nil
	_ = w.file.Sync()
	fileErr := w.file.Close()
	w.file = nil
	if closeErr != nil {
		return "", 0, 0, fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return "", 0, 0, fmt.Errorf("close parquet file: %w", fileErr)
	}

	if w.rows == 0 {
		_ = os.Remove(w.tmpPath)
		return "", 0, 0, nil
	}
	if err := os.Rename(w.tmpPath, w.outPath); err != nil {
		return "", 0, 0, fmt.Errorf("rename parquet: %w", err)
	}
	return w.outPath, w.rows, w.games, nil
}
