package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Vector maps a pgvector column to a float32 slice.
// The wire format is the pgvector literal: [0.1,0.2,...].
type Vector []float32

func (v *Vector) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}

	switch value := src.(type) {
	case string:
		return v.parseFromString(value)
	case []byte:
		return v.parseFromString(string(value))
	default:
		return fmt.Errorf("Vector: unsupported Scan type %T", src)
	}
}

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	parts := make([]string, 0, len(v))
	for _, f := range v {
		parts = append(parts, strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

func (v *Vector) parseFromString(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*v = nil
		return nil
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if strings.TrimSpace(s) == "" {
		*v = Vector{}
		return nil
	}

	raw := strings.Split(s, ",")
	out := make([]float32, 0, len(raw))
	for _, r := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(r), 32)
		if err != nil {
			return fmt.Errorf("Vector: parse %q: %w", r, err)
		}
		out = append(out, float32(f))
	}
	*v = Vector(out)
	return nil
}

// GormDataType tells GORM which column type backs the value.
func (Vector) GormDataType() string {
	return "vector"
}
