package collect

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xtxerr/infoset/internal/config"
	"github.com/xtxerr/infoset/internal/errors"
	"github.com/xtxerr/infoset/internal/ident"
	"github.com/xtxerr/infoset/internal/snapshot"
	"github.com/xtxerr/infoset/internal/spool"
)

// Device is one polled device with its sources.
type Device struct {
	Hostname string
	Sources  []Source

	// closer releases the device connection after each poll.
	closer io.Closer
}

// NewDevice creates a device from already built sources.
func NewDevice(hostname string, sources ...Source) *Device {
	return &Device{Hostname: hostname, Sources: sources}
}

// NewSNMPDevice creates a device with one TableSource per configured table,
// all sharing one SNMP session.
func NewSNMPDevice(cfg config.DeviceConfig, timeout time.Duration, retries int) *Device {
	w := &snmpWalker{client: createClient(cfg, timeout, retries)}

	d := &Device{Hostname: cfg.Hostname, closer: w}
	for _, t := range cfg.Tables {
		d.Sources = append(d.Sources, NewTableSource(w, t))
	}
	return d
}

// Agent polls its devices and writes one snapshot per device and cycle.
type Agent struct {
	Name    string
	Devices []*Device
	Writer  *spool.Writer

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// NewAgent builds an agent from configuration.
func NewAgent(cfg config.AgentConfig) *Agent {
	a := &Agent{
		Name:   cfg.Name,
		Writer: &spool.Writer{Dir: cfg.SpoolDir},
	}
	for _, d := range cfg.Devices {
		a.Devices = append(a.Devices, NewSNMPDevice(d, cfg.Timeout, cfg.Retries))
	}
	return a
}

// Poll runs one cycle over all devices and returns the paths written. A
// failing device does not stop the cycle; its error is joined into the
// returned error.
func (a *Agent) Poll(ctx context.Context) ([]string, error) {
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}

	var paths []string
	var errs []error
	for _, d := range a.Devices {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		path, err := a.pollDevice(ctx, d, now)
		if err != nil {
			log.Warn("device poll failed", "hostname", d.Hostname, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", d.Hostname, err))
			continue
		}
		if path != "" {
			paths = append(paths, path)
		}
	}

	return paths, errors.Join(errs...)
}

// Close releases device connections.
func (a *Agent) Close() error {
	var errs []error
	for _, d := range a.Devices {
		if d.closer != nil {
			if err := d.closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (a *Agent) pollDevice(ctx context.Context, d *Device, now time.Time) (string, error) {
	if d.closer != nil {
		defer d.closer.Close()
	}

	doc := snapshot.NewDocument(now.Unix(), ident.DeviceID(a.Name, d.Hostname), a.Name, d.Hostname)

	extracted := 0
	var lastErr error
	for _, src := range d.Sources {
		if !src.Supported(ctx) {
			log.Debug("source not supported", "hostname", d.Hostname, "source", src.Name())
			continue
		}

		series, err := src.Extract(ctx)
		if err != nil {
			log.Warn("extract failed", "hostname", d.Hostname, "source", src.Name(), "error", err)
			lastErr = err
			continue
		}

		for _, s := range series {
			if len(s.Data) == 0 {
				continue
			}
			for _, datum := range s.Data {
				doc.Add(s.Chartable, s.Label, s.Kind, s.Description, datum)
			}
			extracted++
		}
	}

	if extracted == 0 {
		if lastErr != nil {
			return "", lastErr
		}
		log.Debug("no series extracted", "hostname", d.Hostname)
		return "", nil
	}

	path, err := a.Writer.Write(doc)
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	log.Debug("snapshot written", "hostname", d.Hostname, "path", path, "series", extracted)
	return path, nil
}
