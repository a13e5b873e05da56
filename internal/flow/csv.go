package flow

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// #region load-csv

// LoadCSV reads a header-row CSV export into a time-sorted Block.
// Rows with an unparseable timestamp or numeric field are skipped and
// logged; rows rejected by the schema filter are dropped silently.
// Categorical columns are coded to ids in first-seen order.
func LoadCSV(r io.Reader, schema Schema, logger *zap.Logger) (Block, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var filter *Filter
	if schema.Filter != "" {
		f, err := NewFilter(schema.Filter)
		if err != nil {
			return Block{}, err
		}
		filter = f
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	if d, _ := utf8.DecodeRuneInString(schema.Delimiter); d != utf8.RuneError {
		cr.Comma = d
	}

	header, err := cr.Read()
	if err != nil {
		return Block{}, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}

	tsCol, ok := cols[schema.Timestamp.Column]
	if !ok {
		return Block{}, fmt.Errorf("%w: timestamp column %q not in header", ErrSchema, schema.Timestamp.Column)
	}
	featCols := make([]int, len(schema.Features))
	for i, f := range schema.Features {
		c, ok := cols[f.Column]
		if !ok {
			return Block{}, fmt.Errorf("%w: column %q not in header", ErrSchema, f.Column)
		}
		featCols[i] = c
	}
	labelCol := -1
	if schema.Label != "" {
		c, ok := cols[schema.Label]
		if !ok {
			return Block{}, fmt.Errorf("%w: label column %q not in header", ErrSchema, schema.Label)
		}
		labelCol = c
	}

	codes := make([]map[string]float64, len(schema.Features))
	for i, f := range schema.Features {
		if f.Kind == KindCategorical {
			codes[i] = make(map[string]float64)
		}
	}

	block := Block{Features: schema.FeatureNames()}
	row := 1
	skipped := 0
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return Block{}, fmt.Errorf("read row %d: %w", row, err)
		}

		ts, err := parseTimestamp(field(fields, tsCol), schema.Timestamp)
		if err != nil {
			skipped++
			logger.Warn("skipping row", zap.Int("row", row), zap.Error(err))
			continue
		}

		raw := make(map[string]any, len(schema.Features))
		values := make([]float64, len(schema.Features))
		bad := false
		for i, f := range schema.Features {
			text := strings.TrimSpace(field(fields, featCols[i]))
			if f.Kind == KindCategorical {
				raw[f.Name] = text
				continue
			}
			v, err := strconv.ParseFloat(text, 64)
			if err != nil || math.IsNaN(v) {
				logger.Warn("skipping row", zap.Int("row", row), zap.String("feature", f.Name), zap.String("value", text))
				bad = true
				break
			}
			raw[f.Name] = v
			values[i] = v
		}
		if bad {
			skipped++
			continue
		}

		label := ""
		if labelCol >= 0 {
			label = strings.TrimSpace(field(fields, labelCol))
		}
		keep, err := filter.Keep(label, ts, raw)
		if err != nil {
			return Block{}, fmt.Errorf("row %d: %w", row, err)
		}
		if !keep {
			continue
		}

		for i, f := range schema.Features {
			if f.Kind != KindCategorical {
				continue
			}
			text := raw[f.Name].(string)
			code, ok := codes[i][text]
			if !ok {
				code = float64(len(codes[i]))
				codes[i][text] = code
			}
			values[i] = code
		}

		block.Records = append(block.Records, Record{Time: ts, Values: values, Label: label})
	}

	block.Sort()
	logger.Info("loaded flow records",
		zap.Int("records", block.Len()),
		zap.Int("skipped", skipped),
		zap.String("filter", filter.String()),
	)
	return block, nil
}

// #endregion load-csv

// #region helpers

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func parseTimestamp(text string, spec TimestampSpec) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if spec.Layout != "" {
		ts, err := time.Parse(spec.Layout, text)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", text, err)
		}
		return ts.UTC(), nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", text, err)
	}
	var scale float64
	switch spec.Unit {
	case "ms":
		scale = float64(time.Millisecond)
	case "us":
		scale = float64(time.Microsecond)
	case "ns":
		scale = 1
	default:
		scale = float64(time.Second)
	}
	return time.Unix(0, int64(v*scale)).UTC(), nil
}

// #endregion helpers
