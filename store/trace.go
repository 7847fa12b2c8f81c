// Package store persists self-play games: a parquet trace of every
// generated move for training and a sqlite index of finished games.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const traceSchema = "move_trace_v1"

// MoveRecord is one generated move of a self-play game.
//
// Features is the packed input plane of the position before the move, in
// the layout the evaluator consumes. Policy is the normalised root visit
// distribution over the 362 move slots, pass last. Outcome is filled in when
// the game ends: 1 if the side that played the move won, -1 otherwise.
// Setup lists the moves played before the first generated one, such as
// handicap stones.
type MoveRecord struct {
	GameID     string    `parquet:"game_id,dict"`
	Setup      string    `parquet:"setup,dict,optional"`
	Ply        int32     `parquet:"ply"`
	Color      string    `parquet:"color,dict"`
	Move       string    `parquet:"move"`
	Features   []byte    `parquet:"features"`
	Policy     []float32 `parquet:"policy"`
	Q          float32   `parquet:"q"`
	VResign    float32   `parquet:"v_resign"`
	Sims       int64     `parquet:"sims"`
	ElapsedMs  int64     `parquet:"elapsed_ms"`
	GlobalStep int64     `parquet:"global_step"`
	Outcome    float32   `parquet:"outcome"`
	Winner     string    `parquet:"winner,dict"`
	ModelPath  string    `parquet:"model_path,dict,optional"`
}

func traceWriterOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("features"),
		parquet.SkipPageBounds("policy"),
		parquet.KeyValueMetadata("schema", traceSchema),
	}
}

// WriteTraceParquetAtomic writes rows into outDir/tmp and renames the file
// into outDir, so readers never see a partial file.
func WriteTraceParquetAtomic(outDir string, rows []MoveRecord) (string, error) {
	if len(rows) == 0 {
		return "", errors.New("no rows to write")
	}
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("trace_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, traceWriterOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadTrace loads every row of a trace file.
func ReadTrace(path string) ([]MoveRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	if schema, ok := pf.Lookup("schema"); ok && schema != traceSchema {
		return nil, fmt.Errorf("%s: schema %q, want %q", path, schema, traceSchema)
	}

	reader := parquet.NewGenericReader[MoveRecord](pf)
	defer reader.Close()

	rows := make([]MoveRecord, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows[:n], nil
}

// PackFeatures packs a feature vector eight points per byte, lowest bit
// first.
func PackFeatures(features []bool) []byte {
	out := make([]byte, (len(features)+7)/8)
	for i, f := range features {
		if f {
			out[i>>3] |= 1 << uint(i&7)
		}
	}
	return out
}

// UnpackFeatures reverses PackFeatures for a vector of n values.
func UnpackFeatures(b []byte, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		if i>>3 < len(b) {
			out[i] = b[i>>3]&(1<<uint(i&7)) != 0
		}
	}
	return out
}
