package sessions

import (
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// encode and decode are the single wire format for typed session values.
// Both hosts store opaque bytes; only this package knows the encoding.

func encode[T any](v T) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %T", v)
	}
	return b, nil
}

func decode[T any](b []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return v, errors.Wrapf(err, "decode %T", v)
	}
	return v, nil
}
