package store

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/b0tShaman/neuro-digits/ml"
)

// Encoding of a ModelState: for w1, b1, w2, b2 in that order, a little-endian
// uint64 element count followed by the elements as little-endian float32.

const (
	countSize = 8
	floatSize = 4
)

// Encode serializes s. The output is deterministic for a given state.
func Encode(s ml.ModelState) []byte {
	fields := [][]float32{s.W1, s.B1, s.W2, s.B2}

	size := 0
	for _, f := range fields {
		size += countSize + floatSize*len(f)
	}

	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(f)))
		for _, v := range f {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf
}

// Decode parses bytes produced by Encode. It does not check tensor shapes;
// that is ImportState's job.
func Decode(b []byte) (ml.ModelState, error) {
	r := bytes.NewReader(b)
	names := []string{"w1", "b1", "w2", "b2"}
	fields := make([][]float32, len(names))

	for i, name := range names {
		var count uint64
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return ml.ModelState{}, errors.Wrapf(ml.ErrPersistence, "read %s length: %v", name, err)
		}
		if count > uint64(r.Len())/floatSize {
			return ml.ModelState{}, errors.Wrapf(ml.ErrPersistence,
				"%s claims %d values but only %d bytes remain", name, count, r.Len())
		}

		raw := make([]byte, int(count)*floatSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			return ml.ModelState{}, errors.Wrapf(ml.ErrPersistence, "read %s values: %v", name, err)
		}
		values := make([]float32, count)
		for j := range values {
			values[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*floatSize:]))
		}
		fields[i] = values
	}

	if r.Len() != 0 {
		return ml.ModelState{}, errors.Wrapf(ml.ErrPersistence, "%d trailing bytes after b2", r.Len())
	}

	return ml.ModelState{W1: fields[0], B1: fields[1], W2: fields[2], B2: fields[3]}, nil
}
