package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Encode converts a JSON-tagged struct (or map) into Fields. Numbers become
// json.Number so that integers survive unchanged.
func Encode(v any) (Fields, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return UnmarshalFields(b)
}

// Decode fills v from fields.
func Decode(fields Fields, v any) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// UnmarshalFields parses a JSON object into Fields, keeping numbers as
// json.Number.
func UnmarshalFields(b []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var f Fields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Fields = cloneFields(d.Fields)
	return &out
}

func cloneFields(f Fields) Fields {
	if f == nil {
		return Fields{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		// stored fields were normalized on write
		panic(err)
	}
	out, err := UnmarshalFields(b)
	if err != nil {
		panic(err)
	}
	return out
}

// Matches reports whether every filter holds for fields.
func Matches(fields Fields, filters []Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok || !equalValues(v, f.Value) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// rank orders values of different JSON types the way PostgreSQL orders jsonb.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 1
	case json.Number, float64, int, int64:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case json.Number:
		f, _ := strconv.ParseFloat(n.String(), 64)
		return f
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// compareValues returns -1, 0 or 1.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		as, bs := a.(string), b.(string)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
	case 2:
		af, bf := toFloat(a), toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
	case 3:
		ab, bb := a.(bool), b.(bool)
		if ab != bb {
			if !ab {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Apply filters, orders and limits docs in place and returns the result.
// Ties keep id order so results are stable.
func Apply(docs []*Document, q Query) []*Document {
	out := docs[:0]
	for _, d := range docs {
		if Matches(d.Fields, q.Filters) {
			out = append(out, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(out[i].Fields[q.OrderBy], out[j].Fields[q.OrderBy])
			if q.Descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return out[i].ID < out[j].ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
