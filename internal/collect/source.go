// Package collect polls devices over SNMP and writes snapshots into the spool.
package collect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gosnmp/gosnmp"

	"github.com/xtxerr/infoset/internal/config"
	"github.com/xtxerr/infoset/internal/errors"
	"github.com/xtxerr/infoset/internal/logging"
	"github.com/xtxerr/infoset/internal/snapshot"
)

var log = logging.Component("collect")

// Series is one labelled series extracted from a device.
type Series struct {
	Chartable   bool
	Label       string
	Kind        snapshot.Kind
	Description string
	Data        []snapshot.Datum
}

// Source extracts series from one device.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// Supported reports whether the device exposes the source.
	Supported(ctx context.Context) bool

	// Extract reads the current values.
	Extract(ctx context.Context) ([]Series, error)
}

// Walker walks an OID subtree. *gosnmp.GoSNMP satisfies it.
type Walker interface {
	BulkWalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
}

// =============================================================================
// Table Source
// =============================================================================

// TableSource maps one SNMP table column to a series. Rows are numbered from
// zero in walk order; the optional source column names each row.
//
// The column walked by Supported is kept for the next Extract, so a poll
// walks each column once.
type TableSource struct {
	Walker Walker
	Table  config.TableConfig

	mu     sync.Mutex
	walked []gosnmp.SnmpPDU
}

// NewTableSource creates a TableSource.
func NewTableSource(w Walker, table config.TableConfig) *TableSource {
	return &TableSource{Walker: w, Table: table}
}

func (s *TableSource) Name() string {
	return s.Table.Label
}

func (s *TableSource) Supported(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	pdus, err := s.Walker.BulkWalkAll(s.Table.OID)
	if err != nil {
		log.Debug("table not supported", "label", s.Table.Label, "oid", s.Table.OID, "error", err)
		return false
	}
	if len(column(s.Table.OID, pdus)) == 0 {
		return false
	}

	s.mu.Lock()
	s.walked = pdus
	s.mu.Unlock()
	return true
}

// takeWalked returns and clears the column cached by Supported.
func (s *TableSource) takeWalked() []gosnmp.SnmpPDU {
	s.mu.Lock()
	defer s.mu.Unlock()

	pdus := s.walked
	s.walked = nil
	return pdus
}

func (s *TableSource) Extract(ctx context.Context) ([]Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdus := s.takeWalked()
	if pdus == nil {
		var err error
		if pdus, err = s.Walker.BulkWalkAll(s.Table.OID); err != nil {
			return nil, fmt.Errorf("walk %s: %w: %w", s.Table.OID, errors.ErrSNMPError, err)
		}
	}
	values := column(s.Table.OID, pdus)

	sources := map[string]string{}
	if s.Table.SourceOID != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pdus, err := s.Walker.BulkWalkAll(s.Table.SourceOID)
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w: %w", s.Table.SourceOID, errors.ErrSNMPError, err)
		}
		for _, cell := range column(s.Table.SourceOID, pdus) {
			if v, ok := pduValue(cell.pdu); ok {
				sources[cell.suffix] = fmt.Sprint(v)
			}
		}
	}

	series := Series{
		Chartable:   s.Table.Chartable,
		Label:       s.Table.Label,
		Kind:        snapshot.ParseKind(s.Table.BaseType),
		Description: s.Table.Description,
	}

	for i, cell := range values {
		v, ok := pduValue(cell.pdu)
		if !ok {
			log.Debug("unsupported value", "label", s.Table.Label, "oid", cell.pdu.Name, "type", cell.pdu.Type)
			continue
		}
		if s.Table.Chartable && !numeric(v) {
			log.Debug("non-numeric chartable value", "label", s.Table.Label, "oid", cell.pdu.Name)
			continue
		}

		source, ok := sources[cell.suffix]
		if !ok {
			source = cell.suffix
		}
		series.Data = append(series.Data, snapshot.Datum{Index: i, Value: v, Source: source})
	}

	return []Series{series}, nil
}

// =============================================================================
// Helpers
// =============================================================================

type cell struct {
	suffix string
	pdu    gosnmp.SnmpPDU
}

// column keeps the PDUs below root, keyed by their row suffix, in walk order.
func column(root string, pdus []gosnmp.SnmpPDU) []cell {
	prefix := strings.TrimPrefix(root, ".") + "."

	cells := make([]cell, 0, len(pdus))
	for _, pdu := range pdus {
		name := strings.TrimPrefix(pdu.Name, ".")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		cells = append(cells, cell{suffix: strings.TrimPrefix(name, prefix), pdu: pdu})
	}

	sort.SliceStable(cells, func(i, j int) bool {
		return lessOID(cells[i].suffix, cells[j].suffix)
	})
	return cells
}

// lessOID compares dotted OID suffixes numerically.
func lessOID(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		x, errX := strconv.ParseUint(as[i], 10, 64)
		y, errY := strconv.ParseUint(bs[i], 10, 64)
		if errX != nil || errY != nil {
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
			continue
		}
		if x != y {
			return x < y
		}
	}
	return len(as) < len(bs)
}

// pduValue converts a PDU to a JSON-friendly value.
func pduValue(pdu gosnmp.SnmpPDU) (interface{}, bool) {
	switch pdu.Type {
	case gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).Uint64(), true

	case gosnmp.Integer:
		v, ok := pdu.Value.(int)
		return v, ok

	case gosnmp.TimeTicks:
		v, ok := pdu.Value.(uint32)
		return v, ok

	case gosnmp.OctetString:
		b, ok := pdu.Value.([]byte)
		return string(b), ok

	case gosnmp.OpaqueFloat:
		v, ok := pdu.Value.(float32)
		return float64(v), ok

	case gosnmp.OpaqueDouble:
		v, ok := pdu.Value.(float64)
		return v, ok

	default:
		return nil, false
	}
}

// numeric reports whether v is accepted as a chartable value.
func numeric(v interface{}) bool {
	var f float64
	switch x := v.(type) {
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
			return false
		}
	case float64:
		f = x
	case nil:
		return false
	default:
		return true
	}
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
