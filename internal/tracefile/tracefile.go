// Package tracefile reads and writes the trace file consumed by the
// automaton learner and its binary index companion.
package tracefile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/flowtrace/internal/encode"
)

// ErrFormat wraps every malformed trace or index file.
var ErrFormat = errors.New("tracefile: bad format")

const (
	alphabetSize = 100
	traceLabel   = "1"
	eventSymbol  = "0"
)

// File is the textual content of a trace file.
type File struct {
	Width  int
	Traces [][]string // comma-joined events
}

// FromTraces renders encoded traces.
func FromTraces(traces []encode.Trace, width int) File {
	f := File{Width: width, Traces: make([][]string, len(traces))}
	for i, t := range traces {
		f.Traces[i] = t.Strings()
	}
	return f
}

// Events parses every event back into numeric values.
func (f File) Events() ([][][]float64, error) {
	out := make([][][]float64, len(f.Traces))
	for i, tr := range f.Traces {
		out[i] = make([][]float64, len(tr))
		for j, ev := range tr {
			vals, err := encode.ParseEvent(ev)
			if err != nil {
				return nil, fmt.Errorf("%w: trace %d: %v", ErrFormat, i, err)
			}
			if f.Width > 0 && len(vals) != f.Width {
				return nil, fmt.Errorf("%w: trace %d event %d has %d values, header says %d", ErrFormat, i, j, len(vals), f.Width)
			}
			out[i][j] = vals
		}
	}
	return out, nil
}

// #region text

// Write emits the header "<count> 100:<width>" and one line per trace:
// "1 <events> 0:<e1> 0:<e2> ...".
func Write(w io.Writer, f File) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d:%d\n", len(f.Traces), alphabetSize, f.Width)
	for _, tr := range f.Traces {
		bw.WriteString(traceLabel)
		bw.WriteByte(' ')
		bw.WriteString(strconv.Itoa(len(tr)))
		for _, ev := range tr {
			bw.WriteByte(' ')
			bw.WriteString(eventSymbol)
			bw.WriteByte(':')
			bw.WriteString(ev)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Read parses a trace file.
func Read(r io.Reader) (File, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return File{}, err
		}
		return File{}, fmt.Errorf("%w: empty file", ErrFormat)
	}
	count, width, err := parseHeader(sc.Text())
	if err != nil {
		return File{}, err
	}
	f := File{Width: width}
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		tr, err := parseTrace(text)
		if err != nil {
			return File{}, fmt.Errorf("line %d: %w", line, err)
		}
		f.Traces = append(f.Traces, tr)
	}
	if err := sc.Err(); err != nil {
		return File{}, err
	}
	if len(f.Traces) != count {
		return File{}, fmt.Errorf("%w: header declares %d traces, found %d", ErrFormat, count, len(f.Traces))
	}
	return f, nil
}

func parseHeader(s string) (int, int, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%w: header %q", ErrFormat, s)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count < 0 {
		return 0, 0, fmt.Errorf("%w: trace count %q", ErrFormat, fields[0])
	}
	_, w, ok := strings.Cut(fields[1], ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: header %q", ErrFormat, s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width < 0 {
		return 0, 0, fmt.Errorf("%w: feature count %q", ErrFormat, w)
	}
	return count, width, nil
}

func parseTrace(s string) ([]string, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: trace %q", ErrFormat, s)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: event count %q", ErrFormat, fields[1])
	}
	events := fields[2:]
	// An empty trace may be written as "1 0 0:".
	if n == 0 && len(events) == 1 && strings.HasSuffix(events[0], ":") {
		events = nil
	}
	if len(events) != n {
		return nil, fmt.Errorf("%w: declares %d events, found %d", ErrFormat, n, len(events))
	}
	out := make([]string, n)
	for i, ev := range events {
		_, body, ok := strings.Cut(ev, ":")
		if !ok || body == "" {
			return nil, fmt.Errorf("%w: event %q", ErrFormat, ev)
		}
		out[i] = body
	}
	return out, nil
}

// #endregion text

// #region pair

// IndexPath is the index file that accompanies a trace file.
func IndexPath(tracePath string) string {
	ext := filepath.Ext(tracePath)
	return strings.TrimSuffix(tracePath, ext) + "_indices.bin"
}

// WriteFiles writes the trace file at path and its index file beside it.
func WriteFiles(path string, f File, indices [][]int) error {
	if len(indices) != len(f.Traces) {
		return fmt.Errorf("%d traces but %d index lists", len(f.Traces), len(indices))
	}
	if err := writeFile(path, func(w io.Writer) error { return Write(w, f) }); err != nil {
		return err
	}
	return writeFile(IndexPath(path), func(w io.Writer) error { return WriteIndices(w, indices) })
}

// ReadFiles reads a trace file and its index file.
func ReadFiles(path string) (File, [][]int, error) {
	tf, err := os.Open(path)
	if err != nil {
		return File{}, nil, fmt.Errorf("open traces: %w", err)
	}
	defer tf.Close()
	f, err := Read(tf)
	if err != nil {
		return File{}, nil, fmt.Errorf("read traces %s: %w", path, err)
	}

	ip := IndexPath(path)
	data, err := os.ReadFile(ip)
	if err != nil {
		return File{}, nil, fmt.Errorf("open indices: %w", err)
	}
	indices, err := DecodeIndices(data)
	if err != nil {
		return File{}, nil, fmt.Errorf("read indices %s: %w", ip, err)
	}
	if len(indices) != len(f.Traces) {
		return File{}, nil, fmt.Errorf("%w: %d traces but %d index lists", ErrFormat, len(f.Traces), len(indices))
	}
	return f, indices, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(out); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// #endregion pair
