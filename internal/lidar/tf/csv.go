package tf

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// LoadCSV inserts parent_T_child samples read from r. Each record is
// t_ns,x,y,z,qw,qx,qy,qz; a non-numeric first row is treated as a header.
// It returns the number of samples inserted.
func (b *Buffer) LoadCSV(r io.Reader, parent, child string) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 8
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	count := 0
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("pose csv: %w", err)
		}
		stamp, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return count, fmt.Errorf("pose csv line %d: stamp: %w", line, err)
		}
		var v [7]float64
		for i := range v {
			if v[i], err = strconv.ParseFloat(rec[i+1], 64); err != nil {
				return count, fmt.Errorf("pose csv line %d: column %d: %w", line, i+2, err)
			}
		}
		t := NewTransform(
			quat.Number{Real: v[3], Imag: v[4], Jmag: v[5], Kmag: v[6]},
			r3.Vec{X: v[0], Y: v[1], Z: v[2]},
		)
		if err := b.Insert(parent, child, stamp, t); err != nil {
			return count, fmt.Errorf("pose csv line %d: %w", line, err)
		}
		count++
	}
	diagf("loaded %d %s -> %s samples from csv", count, parent, child)
	return count, nil
}
