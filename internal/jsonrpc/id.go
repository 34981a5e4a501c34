package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
)

// RequestID is a string or numeric JSON-RPC id. The zero value and a nil
// pointer are both the null id.
type RequestID struct {
	text    string
	numeric bool
	set     bool
}

// NewRequestID wraps a string or any Go number. Other types give the null id.
func NewRequestID(v any) *RequestID {
	switch v := v.(type) {
	case string:
		return &RequestID{text: v, set: true}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return &RequestID{text: fmt.Sprint(v), numeric: true, set: true}
	case float32:
		return numericID(float64(v))
	case float64:
		return numericID(v)
	}
	return &RequestID{}
}

func numericID(f float64) *RequestID {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return &RequestID{text: strconv.FormatInt(int64(f), 10), numeric: true, set: true}
	}
	return &RequestID{text: strconv.FormatFloat(f, 'g', -1, 64), numeric: true, set: true}
}

func (id *RequestID) IsNil() bool { return id == nil || !id.set }

// String is the id's text: strings verbatim, numbers in decimal.
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	return id.text
}

// Value returns the id as string, int64 or float64, or nil.
func (id *RequestID) Value() any {
	switch {
	case id.IsNil():
		return nil
	case !id.numeric:
		return id.text
	}
	if i, err := strconv.ParseInt(id.text, 10, 64); err == nil {
		return i
	}
	f, _ := strconv.ParseFloat(id.text, 64)
	return f
}

func (id *RequestID) MarshalJSON() ([]byte, error) {
	switch {
	case id.IsNil():
		return []byte("null"), nil
	case id.numeric:
		return []byte(id.text), nil
	}
	return json.Marshal(id.text)
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = RequestID{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "decode string id")
		}
		*id = RequestID{text: s, set: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Newf("id must be a string or a number, got %s", data)
	}
	if i, err := n.Int64(); err == nil {
		*id = RequestID{text: strconv.FormatInt(i, 10), numeric: true, set: true}
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return errors.Wrapf(err, "decode numeric id %s", data)
	}
	*id = *numericID(f)
	return nil
}
