package glue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// Duration wraps time.Duration for configuration files and DSNs.
// A bare number is read as seconds, anything else as a duration string
// such as "90s", "15m" or "1d2h".
type Duration struct {
	time.Duration
}

// ParseDuration parses a configuration duration.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v any
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
		return nil
	case string:
		var err error
		d.Duration, err = ParseDuration(value)
		return err
	default:
		return fmt.Errorf("invalid duration")
	}
}

// UnmarshalYAML implements yaml.BytesUnmarshaler.
func (d *Duration) UnmarshalYAML(bytes []byte) error {
	s := strings.Trim(strings.TrimSpace(string(bytes)), `"'`)
	var err error
	d.Duration, err = ParseDuration(s)
	return err
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}
