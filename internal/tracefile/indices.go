package tracefile

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Index files use protobuf wire format:
//
//	message IndexFile { repeated Trace traces = 1; }
//	message Trace     { repeated int64 positions = 1 [packed = true]; }
const (
	fieldTraces    protowire.Number = 1
	fieldPositions protowire.Number = 1
)

// EncodeIndices serializes one position list per trace.
func EncodeIndices(indices [][]int) []byte {
	var out []byte
	for _, positions := range indices {
		var packed []byte
		for _, p := range positions {
			packed = protowire.AppendVarint(packed, uint64(int64(p)))
		}
		var trace []byte
		if len(packed) > 0 {
			trace = protowire.AppendTag(trace, fieldPositions, protowire.BytesType)
			trace = protowire.AppendBytes(trace, packed)
		}
		out = protowire.AppendTag(out, fieldTraces, protowire.BytesType)
		out = protowire.AppendBytes(out, trace)
	}
	return out
}

// WriteIndices writes EncodeIndices(indices) to w.
func WriteIndices(w io.Writer, indices [][]int) error {
	_, err := w.Write(EncodeIndices(indices))
	return err
}

// ReadIndices reads a whole index file from r.
func ReadIndices(r io.Reader) ([][]int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeIndices(data)
}

// DecodeIndices parses an index file. Unpacked positions and unknown
// fields are accepted.
func DecodeIndices(data []byte) ([][]int, error) {
	out := [][]int{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrFormat, protowire.ParseError(n))
		}
		data = data[n:]
		if num != fieldTraces || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrFormat, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrFormat, protowire.ParseError(n))
		}
		data = data[n:]
		positions, err := decodeTrace(msg)
		if err != nil {
			return nil, fmt.Errorf("trace %d: %w", len(out), err)
		}
		out = append(out, positions)
	}
	return out, nil
}

func decodeTrace(msg []byte) ([]int, error) {
	positions := []int{}
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrFormat, protowire.ParseError(n))
		}
		msg = msg[n:]
		switch {
		case num == fieldPositions && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrFormat, protowire.ParseError(n))
			}
			msg = msg[n:]
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return nil, fmt.Errorf("%w: %v", ErrFormat, protowire.ParseError(m))
				}
				packed = packed[m:]
				positions = append(positions, int(int64(v)))
			}
		case num == fieldPositions && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrFormat, protowire.ParseError(n))
			}
			msg = msg[n:]
			positions = append(positions, int(int64(v)))
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrFormat, protowire.ParseError(n))
			}
			msg = msg[n:]
		}
	}
	return positions, nil
}
