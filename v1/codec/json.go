package codec

import (
	"bytes"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"

	cerrors "github.com/mirkobrombin/go-cachelock/v1/errors"
)

// ISO8601Millis is an ISO-8601 layout with millisecond precision. It is a
// valid RFC 3339 layout, so time.Time decodes it without help.
const ISO8601Millis = "2006-01-02T15:04:05.000Z07:00"

var errTrailingData = stdErrors.New("codec: trailing data after JSON value")

// Config controls how the JSON codec writes values.
type Config struct {
	// TimeLayout is the single layout every time.Time and *time.Time is
	// written in, always in UTC. Strings are never touched, even when they
	// hold timestamp text. Empty keeps encoding/json output.
	TimeLayout string
	// OmitNulls drops object fields whose value is null.
	OmitNulls bool
	// UseNumber decodes numbers into json.Number instead of float64 when the
	// target is an interface.
	UseNumber bool
}

// DefaultConfig writes timestamps as UTC ISO-8601 with milliseconds and
// keeps null fields.
func DefaultConfig() Config {
	return Config{TimeLayout: ISO8601Millis}
}

// JSON implements Codec using encoding/json and a Config.
type JSON struct {
	cfg Config
}

// NewJSON returns a JSON codec using cfg.
func NewJSON(cfg Config) *JSON {
	return &JSON{cfg: cfg}
}

// Config returns the configuration the codec was built with.
func (j *JSON) Config() Config { return j.cfg }

// Marshal implements Codec.Marshal. Unsupported types and cyclic values fail
// with an error wrapping ErrSerialization.
//
// With a TimeLayout set, object keys come out sorted, as they do for maps.
func (j *JSON) Marshal(v any) ([]byte, error) {
	var in any = v
	if j.cfg.TimeLayout != "" {
		tree, err := newTimeWriter(j.cfg.TimeLayout).tree(v)
		if err != nil {
			return nil, fmt.Errorf("%w: json encode: %w", cerrors.ErrSerialization, err)
		}
		in = tree
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: json encode: %w", cerrors.ErrSerialization, err)
	}
	if !j.cfg.OmitNulls {
		return data, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: json omit nulls: %w", cerrors.ErrSerialization, err)
	}
	out, err := json.Marshal(dropNulls(tree))
	if err != nil {
		return nil, fmt.Errorf("%w: json encode: %w", cerrors.ErrSerialization, err)
	}
	return out, nil
}

// Unmarshal implements Codec.Unmarshal. Malformed input fails with an error
// wrapping ErrSerialization.
func (j *JSON) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if j.cfg.UseNumber {
		dec.UseNumber()
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: json decode: %w", cerrors.ErrSerialization, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: %w", cerrors.ErrSerialization, errTrailingData)
	}
	return nil
}

func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			if e == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(e)
		}
	case []any:
		for i, e := range t {
			t[i] = dropNulls(e)
		}
	}
	return v
}
