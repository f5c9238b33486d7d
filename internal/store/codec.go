package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/0xPuncker/periodic/pkg/types"
)

// wireRecord is the on-disk form of a RunRecord. lastRun stays raw on the
// way in because older writers stored it in several shapes.
type wireRecord struct {
	Name       string          `json:"name"`
	Interval   string          `json:"interval"`
	Task       string          `json:"task"`
	Action     string          `json:"action"`
	Args       []any           `json:"args"`
	LastRun    json.RawMessage `json:"lastRun"`
	LastResult json.RawMessage `json:"lastResult"`
}

type wireOut struct {
	Name       string          `json:"name"`
	Interval   string          `json:"interval"`
	Task       string          `json:"task"`
	Action     string          `json:"action"`
	Args       []any           `json:"args"`
	LastRun    *string         `json:"lastRun"`
	LastResult json.RawMessage `json:"lastResult"`
}

// legacyDate is how a serialized date object looks when the writer dumped
// the object itself instead of a formatted string.
type legacyDate struct {
	Date     string `json:"date"`
	Timezone string `json:"timezone"`
}

var legacyLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

func decode(data []byte, loc *time.Location) (Snapshot, error) {
	// an empty schedule was historically written as a JSON list
	if bytes.Equal(bytes.TrimSpace(data), []byte("[]")) {
		return Snapshot{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: top-level value is null", ErrCorrupt)
	}

	snap := make(Snapshot, len(raw))
	for name, value := range raw {
		var w wireRecord
		if err := decodeRecord(value, &w); err != nil {
			return nil, fmt.Errorf("%w: record %q: %v", ErrCorrupt, name, err)
		}
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return nil, fmt.Errorf("%w: record %q is null", ErrCorrupt, name)
		}

		lastRun, err := parseLastRun(w.LastRun, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: record %q: %v", ErrCorrupt, name, err)
		}

		rec := &types.RunRecord{
			Name:       w.Name,
			Interval:   w.Interval,
			Task:       w.Task,
			Action:     w.Action,
			Args:       w.Args,
			LastRun:    lastRun,
			LastResult: w.LastResult,
		}
		if rec.Name == "" {
			rec.Name = name
		}
		if rec.Args == nil {
			rec.Args = []any{}
		}
		if len(rec.LastResult) == 0 {
			rec.LastResult = types.EmptyResult
		}
		snap[name] = rec
	}
	return snap, nil
}

// decodeRecord keeps numbers in args as json.Number so integers beyond
// float64 precision are written back unchanged.
func decodeRecord(value json.RawMessage, w *wireRecord) error {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	return dec.Decode(w)
}

func encode(snap Snapshot) ([]byte, error) {
	out := make(map[string]wireOut, len(snap))
	for name, rec := range snap {
		if rec == nil {
			continue
		}
		w := wireOut{
			Name:       rec.Name,
			Interval:   rec.Interval,
			Task:       rec.Task,
			Action:     rec.Action,
			Args:       rec.Args,
			LastResult: rec.LastResult,
		}
		if w.Args == nil {
			w.Args = []any{}
		}
		if len(w.LastResult) == 0 {
			w.LastResult = types.EmptyResult
		}
		if rec.LastRun != nil {
			ts := rec.LastRun.Format(time.RFC3339Nano)
			w.LastRun = &ts
		}
		out[name] = w
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func parseLastRun(raw json.RawMessage, loc *time.Location) (*time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		t, err := parseTimestamp(s, loc)
		if err != nil {
			return nil, err
		}
		return &t, nil
	case '{':
		var d legacyDate
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		zone := loc
		if d.Timezone != "" {
			z, err := parseZone(d.Timezone)
			if err != nil {
				return nil, err
			}
			zone = z
		}
		t, err := parseTimestamp(d.Date, zone)
		if err != nil {
			return nil, err
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("unsupported lastRun value %s", string(raw))
	}
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised lastRun timestamp %q", s)
}

func parseZone(name string) (*time.Location, error) {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc, nil
	}
	t, err := time.Parse("-07:00", name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", name)
	}
	_, offset := t.Zone()
	return time.FixedZone(name, offset), nil
}
