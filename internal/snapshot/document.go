package snapshot

import (
	"github.com/goccy/go-json"
)

// Document is the producer-side form of a snapshot file.
type Document struct {
	Timestamp int64             `json:"timestamp"`
	UID       string            `json:"uid"`
	Agent     string            `json:"agent"`
	Hostname  string            `json:"hostname"`
	Chartable map[string]*Group `json:"chartable,omitempty"`
	Other     map[string]*Group `json:"other,omitempty"`
}

// Group is one labelled series inside a snapshot group.
type Group struct {
	BaseType    Kind    `json:"base_type"`
	Description string  `json:"description"`
	Data        []Datum `json:"data"`
}

// Datum is one [index, value, source] tuple.
type Datum struct {
	Index  interface{}
	Value  interface{}
	Source string
}

// MarshalJSON encodes d as a 3-element array.
func (d Datum) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{d.Index, d.Value, d.Source})
}

// NewDocument creates an empty document for one device at one time.
func NewDocument(timestamp int64, uid, agent, hostname string) *Document {
	return &Document{
		Timestamp: timestamp,
		UID:       uid,
		Agent:     agent,
		Hostname:  hostname,
	}
}

// Add appends a datum to the labelled series of the chartable or other group,
// creating the series on first use.
func (d *Document) Add(chartable bool, label string, kind Kind, description string, datum Datum) {
	groups := &d.Other
	if chartable {
		groups = &d.Chartable
	}
	if *groups == nil {
		*groups = make(map[string]*Group)
	}

	g, ok := (*groups)[label]
	if !ok {
		g = &Group{BaseType: kind, Description: description, Data: []Datum{}}
		(*groups)[label] = g
	}
	g.Data = append(g.Data, datum)
}

// Name returns the spool file name for the document.
func (d *Document) Name() Name {
	return Name{Timestamp: d.Timestamp, DeviceID: d.UID}
}

// Encode returns the JSON form of the document.
func (d *Document) Encode() ([]byte, error) {
	for _, groups := range []map[string]*Group{d.Chartable, d.Other} {
		for _, g := range groups {
			if g.Data == nil {
				g.Data = []Datum{}
			}
		}
	}
	return json.Marshal(d)
}
