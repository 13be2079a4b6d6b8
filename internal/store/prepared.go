package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// PreparedExample is a transformed dataset example: its log-mel features
// ([bins][frames]) and label token ids.
type PreparedExample struct {
	Index    int
	Path     string
	Sentence string
	Features [][]float32
	Labels   []int
}

// SplitInfo describes a prepared split.
type SplitInfo struct {
	Split      string
	SourceKey  string
	Count      int
	PreparedAt time.Time
}

// ErrSplitNotPrepared is returned when a split has no prepared examples.
var ErrSplitNotPrepared = errors.New("split not prepared")

// SplitWriter streams prepared examples of one split into the store. The
// previous contents of the split stay visible until Commit; Rollback keeps
// them.
type SplitWriter struct {
	tx        *sql.Tx
	insert    *sql.Stmt
	split     string
	sourceKey string
	count     int
}

// BeginSplit starts replacing split. sourceKey identifies the dataset and
// feature settings the examples come from.
func (s *Store) BeginSplit(ctx context.Context, split, sourceKey string) (*SplitWriter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin prepare tx: %w", err)
	}
	for _, table := range []string{"prepared_examples", "prepared_splits"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE split = ?`, split); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("clear %s: %w", table, err)
		}
	}
	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO prepared_examples (split, idx, path, sentence, bins, frames, features, labels)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("prepare example insert: %w", err)
	}
	return &SplitWriter{tx: tx, insert: insert, split: split, sourceKey: sourceKey}, nil
}

// Write inserts one example. Examples may arrive in any order; they are
// keyed by Index.
func (w *SplitWriter) Write(ctx context.Context, ex PreparedExample) error {
	bins, frames, blob, err := encodeFeatures(ex.Features)
	if err != nil {
		return fmt.Errorf("example %d: %w", ex.Index, err)
	}
	if _, err := w.insert.ExecContext(ctx, w.split, ex.Index, ex.Path, ex.Sentence, bins, frames, blob, encodeLabels(ex.Labels)); err != nil {
		return fmt.Errorf("insert example %d: %w", ex.Index, err)
	}
	w.count++
	return nil
}

// Count returns the number of examples written so far.
func (w *SplitWriter) Count() int {
	return w.count
}

// Commit records the split and makes the written examples visible.
func (w *SplitWriter) Commit(ctx context.Context) error {
	defer w.insert.Close()
	if _, err := w.tx.ExecContext(ctx,
		`INSERT INTO prepared_splits (split, source_key, example_count, prepared_at) VALUES (?, ?, ?, ?)`,
		w.split, w.sourceKey, w.count, formatTime(time.Now()),
	); err != nil {
		_ = w.tx.Rollback()
		return fmt.Errorf("insert prepared split: %w", err)
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit split %s: %w", w.split, err)
	}
	return nil
}

// Rollback discards everything written. It is a no-op after Commit.
func (w *SplitWriter) Rollback() {
	_ = w.insert.Close()
	_ = w.tx.Rollback()
}

// ReplaceSplit stores examples for split in one call, replacing anything
// prepared before.
func (s *Store) ReplaceSplit(ctx context.Context, split, sourceKey string, examples []PreparedExample) error {
	w, err := s.BeginSplit(ctx, split, sourceKey)
	if err != nil {
		return err
	}
	defer w.Rollback()
	for _, ex := range examples {
		if err := w.Write(ctx, ex); err != nil {
			return err
		}
	}
	return w.Commit(ctx)
}

// Split returns information about a prepared split.
func (s *Store) Split(ctx context.Context, split string) (SplitInfo, error) {
	var (
		info     SplitInfo
		prepared string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT split, source_key, example_count, prepared_at FROM prepared_splits WHERE split = ?`, split,
	).Scan(&info.Split, &info.SourceKey, &info.Count, &prepared)
	if errors.Is(err, sql.ErrNoRows) {
		return SplitInfo{}, fmt.Errorf("%w: %s", ErrSplitNotPrepared, split)
	}
	if err != nil {
		return SplitInfo{}, fmt.Errorf("read prepared split: %w", err)
	}
	info.PreparedAt = parseTime(prepared)
	return info, nil
}

// Splits lists every prepared split.
func (s *Store) Splits(ctx context.Context) ([]SplitInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT split, source_key, example_count, prepared_at FROM prepared_splits ORDER BY split`)
	if err != nil {
		return nil, fmt.Errorf("list prepared splits: %w", err)
	}
	defer rows.Close()
	var out []SplitInfo
	for rows.Next() {
		var (
			info     SplitInfo
			prepared string
		)
		if err := rows.Scan(&info.Split, &info.SourceKey, &info.Count, &prepared); err != nil {
			return nil, fmt.Errorf("scan prepared split: %w", err)
		}
		info.PreparedAt = parseTime(prepared)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Examples loads the examples at the given indices, in the order requested.
func (s *Store) Examples(ctx context.Context, split string, indices []int) ([]PreparedExample, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(indices)), ",")
	args := make([]any, 0, len(indices)+1)
	args = append(args, split)
	for _, idx := range indices {
		args = append(args, idx)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, path, sentence, bins, frames, features, labels FROM prepared_examples
         WHERE split = ? AND idx IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load prepared examples: %w", err)
	}
	defer rows.Close()

	byIndex := make(map[int]PreparedExample, len(indices))
	for rows.Next() {
		var (
			ex             PreparedExample
			bins, frames   int
			features, labs []byte
		)
		if err := rows.Scan(&ex.Index, &ex.Path, &ex.Sentence, &bins, &frames, &features, &labs); err != nil {
			return nil, fmt.Errorf("scan prepared example: %w", err)
		}
		ex.Features, err = decodeFeatures(bins, frames, features)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", ex.Index, err)
		}
		ex.Labels, err = decodeLabels(labs)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", ex.Index, err)
		}
		byIndex[ex.Index] = ex
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]PreparedExample, len(indices))
	for i, idx := range indices {
		ex, ok := byIndex[idx]
		if !ok {
			return nil, fmt.Errorf("split %s has no example %d", split, idx)
		}
		out[i] = ex
	}
	return out, nil
}

func encodeFeatures(m [][]float32) (int, int, []byte, error) {
	bins := len(m)
	if bins == 0 {
		return 0, 0, nil, errors.New("empty feature matrix")
	}
	frames := len(m[0])
	buf := make([]byte, 0, bins*frames*4)
	for i, row := range m {
		if len(row) != frames {
			return 0, 0, nil, fmt.Errorf("feature row %d has %d frames, want %d", i, len(row), frames)
		}
		for _, v := range row {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return bins, frames, buf, nil
}

func decodeFeatures(bins, frames int, data []byte) ([][]float32, error) {
	if len(data) != bins*frames*4 {
		return nil, fmt.Errorf("feature blob has %d bytes, want %d", len(data), bins*frames*4)
	}
	out := make([][]float32, bins)
	for b := range bins {
		row := make([]float32, frames)
		for f := range frames {
			off := (b*frames + f) * 4
			row[f] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		}
		out[b] = row
	}
	return out, nil
}

func encodeLabels(ids []int) []byte {
	buf := make([]byte, 0, len(ids)*4)
	for _, id := range ids {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(id)))
	}
	return buf
}

func decodeLabels(data []byte) ([]int, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("label blob has %d bytes", len(data))
	}
	out := make([]int, len(data)/4)
	for i := range out {
		out[i] = int(int32(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return out, nil
}
