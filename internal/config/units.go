package config

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/jmylchreest/wsvideo/pkg/bytesize"
	"github.com/jmylchreest/wsvideo/pkg/duration"
)

// Duration is a time.Duration that also accepts bare numbers as seconds, so
// latency targets can be written "0.3" as well as "300ms".
type Duration time.Duration

// ByteSize is a byte count that accepts human-readable values such as
// "200KB" or "1.5MB" from YAML, JSON and environment variables.
type ByteSize int64

// ParseDuration parses a duration string via pkg/duration.
func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

// ParseByteSize parses a size string via pkg/bytesize.
func ParseByteSize(s string) (ByteSize, error) {
	size, err := bytesize.Parse(s)
	if err != nil {
		return 0, err
	}
	return ByteSize(size), nil
}

// unmarshalJSONValue decodes data as a string through text, or as a plain
// number through number.
func unmarshalJSONValue(data []byte, text func([]byte) error, number func(float64)) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return text([]byte(s))
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	number(n)
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	return unmarshalJSONValue(data, d.UnmarshalText, func(secs float64) {
		*d = Duration(duration.FromSeconds(secs))
	})
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Seconds returns the duration as fractional seconds, the unit media
// timelines are expressed in.
func (d Duration) Seconds() float64 {
	return time.Duration(d).Seconds()
}

func (d Duration) String() string {
	return duration.Format(time.Duration(d))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON accepts a size string or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	return unmarshalJSONValue(data, b.UnmarshalText, func(n float64) {
		*b = ByteSize(n)
	})
}

func (b ByteSize) MarshalJSON() ([]byte, error) { return json.Marshal(b.String()) }
func (b ByteSize) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	return bytesize.Format(bytesize.Size(b))
}

var durationType = reflect.TypeOf(Duration(0))

// secondsHookFunc decodes numeric YAML values (0.3, 10) into Duration as
// seconds instead of nanoseconds.
func secondsHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case float64:
			return Duration(duration.FromSeconds(v)), nil
		case float32:
			return Duration(duration.FromSeconds(float64(v))), nil
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		}
		return data, nil
	}
}
