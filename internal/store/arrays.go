package store

import (
	"database/sql/driver"
	"fmt"

	"github.com/lib/pq"
)

// IntArray adapts a Postgres integer[] column (tunes.pitches) to a plain
// []int64, resolving the Open Question in DESIGN.md in favor of native
// arrays over the legacy CSV-text representation.
type IntArray []int64

func (a IntArray) Value() (driver.Value, error) {
	return pq.Int64Array(a).Value()
}

func (a *IntArray) Scan(src interface{}) error {
	var raw pq.Int64Array
	if err := raw.Scan(src); err != nil {
		return fmt.Errorf("scan IntArray: %w", err)
	}
	*a = IntArray(raw)
	return nil
}

// Float64Array adapts a Postgres double precision[] column (tunes.intervals).
type Float64Array []float64

func (a Float64Array) Value() (driver.Value, error) {
	return pq.Float64Array(a).Value()
}

func (a *Float64Array) Scan(src interface{}) error {
	var raw pq.Float64Array
	if err := raw.Scan(src); err != nil {
		return fmt.Errorf("scan Float64Array: %w", err)
	}
	*a = Float64Array(raw)
	return nil
}
