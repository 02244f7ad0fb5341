// Package snapshot parses and validates the JSON snapshot files that agents
// write into the spool.
//
// A snapshot carries the identity of one device at one point in time plus up
// to two groups of series:
//
//	{
//	  "timestamp": 1000, "uid": "abc123", "agent": "sentry3", "hostname": "h1",
//	  "chartable": {"infeedPower": {"base_type": "floating", "description": "d",
//	                                "data": [[0, 12.5, "sensor1"]]}},
//	  "other":     {"sysName": {"base_type": null, "description": "d",
//	                            "data": [[0, "pdu1", "system"]]}}
//	}
//
// Chartable values must be numeric. Values under "other" are carried as
// opaque JSON text.
package snapshot

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xtxerr/infoset/internal/errors"
	"github.com/xtxerr/infoset/internal/ident"
)

// Group names.
const (
	GroupChartable = "chartable"
	GroupOther     = "other"
)

var (
	rootKeys   = []string{"timestamp", "uid", "agent", "hostname"}
	seriesKeys = []string{"base_type", "description", "data"}
)

// Record is one data tuple of a snapshot, resolved to its series.
type Record struct {
	DeviceID  string
	SeriesID  string
	Label     string
	Index     string
	Source    string
	Kind      Kind
	Timestamp int64

	// Value is set for chartable records.
	Value float64

	// Raw is the JSON text of the value for records under "other".
	Raw string
}

// SeriesMeta describes one distinct series found in a snapshot.
type SeriesMeta struct {
	DeviceID    string
	SeriesID    string
	Label       string
	Source      string
	Description string
	Kind        Kind
	Chartable   bool
}

// Snapshot is a validated snapshot file.
type Snapshot struct {
	Timestamp int64
	DeviceID  string
	Agent     string
	Hostname  string

	chartable map[Kind][]Record
	other     []Record
	sources   []SeriesMeta
}

// Name returns the spool file name this snapshot belongs under.
func (s *Snapshot) Name() Name {
	return Name{Timestamp: s.Timestamp, DeviceID: s.DeviceID}
}

// Floating returns chartable records of kind floating.
func (s *Snapshot) Floating() []Record { return s.chartable[KindFloating] }

// Counter32 returns chartable records of kind counter32.
func (s *Snapshot) Counter32() []Record { return s.chartable[KindCounter32] }

// Counter64 returns chartable records of kind counter64.
func (s *Snapshot) Counter64() []Record { return s.chartable[KindCounter64] }

// Chartable returns the typed chartable records, grouped by kind in the
// order floating, counter32, counter64. Records without a known base_type
// are not included; see Untyped.
func (s *Snapshot) Chartable() []Record {
	var out []Record
	for _, k := range []Kind{KindFloating, KindCounter32, KindCounter64} {
		out = append(out, s.chartable[k]...)
	}
	return out
}

// Untyped returns chartable records whose base_type is null or unknown.
// Their series are registered but they are never written as measurements.
func (s *Snapshot) Untyped() []Record { return s.chartable[KindUnknown] }

// Other returns the opaque records.
func (s *Snapshot) Other() []Record { return s.other }

// Sources returns one entry per distinct series, in first-seen order.
func (s *Snapshot) Sources() []SeriesMeta { return s.sources }

// Parse decodes and validates one snapshot file.
//
// Undecodable input yields an error wrapping errors.ErrRead. Structural
// violations are collected into one error wrapping errors.ErrSchema; in that
// case the returned Snapshot is non-nil and holds whatever identifying fields
// were readable.
func Parse(data []byte) (*Snapshot, error) {
	root, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrRead, err)
	}

	obj, ok := root.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: root must be an object, got %s", errors.ErrSchema, typeName(root))
	}

	snap := &Snapshot{chartable: make(map[Kind][]Record)}
	verrs := errors.NewValidationErrors(errors.ErrSchema)

	for _, key := range rootKeys {
		if _, ok := obj[key]; !ok {
			verrs.AddMissing(key)
		}
	}

	// A numeric uid is kept as text; a uid that does not match the file
	// name is an identity mismatch, not a schema violation.
	if v, ok := obj["uid"]; ok {
		switch t := v.(type) {
		case string:
			snap.DeviceID = t
		case json.Number:
			snap.DeviceID = string(t)
		default:
			verrs.Add(errors.NewInvalidValue("uid", v, "must be a string or number"))
		}
	}
	if v, ok := obj["agent"]; ok {
		if s, ok := v.(string); ok {
			snap.Agent = s
		} else {
			verrs.Add(errors.NewInvalidValue("agent", v, "must be a string"))
		}
	}
	if v, ok := obj["hostname"]; ok {
		if s, ok := v.(string); ok {
			snap.Hostname = s
		} else {
			verrs.Add(errors.NewInvalidValue("hostname", v, "must be a string"))
		}
	}
	if v, ok := obj["timestamp"]; ok {
		ts, err := parseTimestamp(v)
		if err != nil {
			verrs.Add(err)
		} else {
			snap.Timestamp = ts
		}
	}

	seen := make(map[string]bool)
	for _, group := range []string{GroupChartable, GroupOther} {
		if v, ok := obj[group]; ok {
			snap.parseGroup(group, v, verrs, seen)
		}
	}

	if err := verrs.Err(); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *Snapshot) parseGroup(group string, v interface{}, verrs *errors.ValidationErrors, seen map[string]bool) {
	series, ok := v.(map[string]interface{})
	if !ok {
		verrs.Addf("%s: must be an object, got %s", group, typeName(v))
		return
	}

	labels := make([]string, 0, len(series))
	for label := range series {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	chartable := group == GroupChartable

	for _, label := range labels {
		path := group + "." + label

		entry, ok := series[label].(map[string]interface{})
		if !ok {
			verrs.Addf("%s: must be an object, got %s", path, typeName(series[label]))
			continue
		}

		complete := true
		for _, key := range seriesKeys {
			if _, ok := entry[key]; !ok {
				verrs.AddMissing(path + "." + key)
				complete = false
			}
		}
		if !complete {
			continue
		}

		kind := KindUnknown
		if name, ok := entry["base_type"].(string); ok {
			kind = ParseKind(name)
		}

		description := looseText(entry["description"])

		rows, ok := entry["data"].([]interface{})
		if !ok {
			verrs.Addf("%s.data: must be an array, got %s", path, typeName(entry["data"]))
			continue
		}

		for i, row := range rows {
			rowPath := fmt.Sprintf("%s.data[%d]", path, i)

			tuple, ok := row.([]interface{})
			if !ok || len(tuple) != 3 {
				verrs.Addf("%s: must be a 3-element array [index, value, source]", rowPath)
				continue
			}

			index, err := indexText(tuple[0])
			if err != nil {
				verrs.Addf("%s: index %v", rowPath, err)
				continue
			}
			source := looseText(tuple[2])

			rec := Record{
				DeviceID:  s.DeviceID,
				SeriesID:  ident.SeriesID(s.DeviceID, label, index),
				Label:     label,
				Index:     index,
				Source:    source,
				Kind:      kind,
				Timestamp: s.Timestamp,
			}

			if chartable {
				value, err := numericValue(tuple[1])
				if err != nil {
					verrs.Addf("%s: value %v", rowPath, err)
					continue
				}
				rec.Value = value
				s.chartable[kind] = append(s.chartable[kind], rec)
			} else {
				raw, err := json.Marshal(tuple[1])
				if err != nil {
					verrs.Addf("%s: value: %v", rowPath, err)
					continue
				}
				rec.Raw = string(raw)
				s.other = append(s.other, rec)
			}

			if !seen[rec.SeriesID] {
				seen[rec.SeriesID] = true
				s.sources = append(s.sources, SeriesMeta{
					DeviceID:    s.DeviceID,
					SeriesID:    rec.SeriesID,
					Label:       label,
					Source:      source,
					Description: description,
					Kind:        kind,
					Chartable:   chartable,
				})
			}
		}
	}
}

func decode(data []byte) (interface{}, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("not a single well-formed JSON value")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// parseTimestamp accepts a JSON integer or a decimal string.
func parseTimestamp(v interface{}) (int64, error) {
	var text string
	switch t := v.(type) {
	case json.Number:
		text = string(t)
	case string:
		text = strings.TrimSpace(t)
	default:
		return 0, errors.NewInvalidValue("timestamp", v, "must be an integer")
	}

	ts, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.NewInvalidValue("timestamp", text, "must be an integer")
	}
	if ts < 0 {
		return 0, errors.NewInvalidValue("timestamp", ts, "must not be negative")
	}
	return ts, nil
}

// indexText returns the literal token text of a scalar index. Strings are
// unquoted; numbers keep their source spelling.
func indexText(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return string(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "null", nil
	}
	return "", fmt.Errorf("must be a scalar, got %s", typeName(v))
}

// looseText renders a free-form field. Strings are kept as is, null is
// empty and anything else becomes its JSON text.
func looseText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// numericValue accepts a JSON number or a numeric string with a finite value.
func numericValue(v interface{}) (float64, error) {
	var text string
	switch t := v.(type) {
	case json.Number:
		text = string(t)
	case string:
		text = strings.TrimSpace(t)
	default:
		return 0, fmt.Errorf("must be numeric, got %s", typeName(v))
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not numeric", text)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not finite", text)
	}
	return f, nil
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
