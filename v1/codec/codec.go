package codec

import (
	"bytes"
	"encoding/gob"
	stdErrors "errors"
	"fmt"

	cerrors "github.com/mirkobrombin/go-cachelock/v1/errors"
)

// Codec defines methods for encoding and decoding values.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Gob implements Codec using encoding/gob. Values stored behind interfaces
// must be registered with gob.Register.
type Gob struct{}

func (Gob) Marshal(v any) ([]byte, error) {
	var b bytes.Buffer
	enc := gob.NewEncoder(&b)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: gob encode: %w", cerrors.ErrSerialization, err)
	}
	return b.Bytes(), nil
}

func (Gob) Unmarshal(data []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: gob decode: %w", cerrors.ErrSerialization, err)
	}
	return nil
}

var (
	errNotBytes    = stdErrors.New("codec: value is not []byte or string")
	errNotBytesPtr = stdErrors.New("codec: target is not *[]byte")
)

// Bytes implements Codec for raw byte slices. Strings are written as their
// bytes so cache keys can use it too; anything else fails.
type Bytes struct{}

func (Bytes) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("%w: %w", cerrors.ErrSerialization, errNotBytes)
}

func (Bytes) Unmarshal(data []byte, v any) error {
	if ptr, ok := v.(*[]byte); ok {
		*ptr = data
		return nil
	}
	return fmt.Errorf("%w: %w", cerrors.ErrSerialization, errNotBytesPtr)
}

// ByName returns the codec registered under name: "json", "gob" or "bytes".
// JSON uses DefaultConfig.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return NewJSON(DefaultConfig()), nil
	case "gob":
		return Gob{}, nil
	case "bytes", "raw":
		return Bytes{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
