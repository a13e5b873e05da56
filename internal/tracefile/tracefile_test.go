package tracefile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/danielpatrickdp/flowtrace/internal/encode"
)

func TestWrite_Format(t *testing.T) {
	f := FromTraces([]encode.Trace{
		{Events: [][]float64{{80, 6}, {443, 17}}},
		{Events: [][]float64{{53, 17}}, Floats: true},
	}, 2)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f))
	assert.Equal(t, "2 100:2\n1 2 0:80,6 0:443,17\n1 1 0:53.0,17.0\n", buf.String())
}

func TestRead_RoundTrip(t *testing.T) {
	src := "2 100:2\n1 2 0:80,6 0:443,17\n1 1 0:53.0,17.0\n"
	f, err := Read(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 2, f.Width)
	assert.Equal(t, [][]string{{"80,6", "443,17"}, {"53.0,17.0"}}, f.Traces)

	events, err := f.Events()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{53, 17}}, events[1])
}

func TestRead_EmptyTraceSpelling(t *testing.T) {
	f, err := Read(strings.NewReader("1 100:3\n1 0 0:\n"))
	require.NoError(t, err)
	require.Len(t, f.Traces, 1)
	assert.Empty(t, f.Traces[0])
}

func TestRead_Malformed(t *testing.T) {
	for name, src := range map[string]string{
		"empty":       "",
		"header":      "2\n",
		"count":       "3 100:1\n1 1 0:5\n",
		"event count": "1 100:1\n1 2 0:5\n",
		"no symbol":   "1 100:1\n1 1 5\n",
	} {
		_, err := Read(strings.NewReader(src))
		assert.ErrorIs(t, err, ErrFormat, name)
	}

	f, err := Read(strings.NewReader("1 100:2\n1 1 0:5\n"))
	require.NoError(t, err)
	_, err = f.Events()
	assert.ErrorIs(t, err, ErrFormat, "width mismatch")
}

func TestIndices_RoundTrip(t *testing.T) {
	in := [][]int{{0, 1, 2, 300}, {}, {70000}}
	got, err := DecodeIndices(EncodeIndices(in))
	require.NoError(t, err)
	assert.Equal(t, in, got)

	var buf bytes.Buffer
	require.NoError(t, WriteIndices(&buf, in))
	got, err = ReadIndices(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestIndices_UnpackedAndUnknownFields(t *testing.T) {
	var trace []byte
	trace = protowire.AppendTag(trace, 1, protowire.VarintType)
	trace = protowire.AppendVarint(trace, 4)
	trace = protowire.AppendTag(trace, 9, protowire.VarintType)
	trace = protowire.AppendVarint(trace, 99)
	trace = protowire.AppendTag(trace, 1, protowire.VarintType)
	trace = protowire.AppendVarint(trace, 5)

	var file []byte
	file = protowire.AppendTag(file, 2, protowire.BytesType)
	file = protowire.AppendBytes(file, []byte("ignored"))
	file = protowire.AppendTag(file, 1, protowire.BytesType)
	file = protowire.AppendBytes(file, trace)

	got, err := DecodeIndices(file)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{4, 5}}, got)

	_, err = DecodeIndices([]byte{0x0a, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestFiles_Pair(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traces.txt")
	assert.Equal(t, filepath.Join(dir, "traces_indices.bin"), IndexPath(path))

	f := File{Width: 1, Traces: [][]string{{"1", "2"}, {"3"}}}
	idx := [][]int{{10, 11}, {12}}
	require.NoError(t, WriteFiles(path, f, idx))

	gotF, gotIdx, err := ReadFiles(path)
	require.NoError(t, err)
	assert.Equal(t, f, gotF)
	assert.Equal(t, idx, gotIdx)

	require.NoError(t, os.WriteFile(IndexPath(path), EncodeIndices(idx[:1]), 0o644))
	_, _, err = ReadFiles(path)
	assert.ErrorIs(t, err, ErrFormat)

	assert.Error(t, WriteFiles(path, f, idx[:1]))
}
