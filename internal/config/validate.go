package config

import (
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"grimm.is/brcompat/internal/logging"
)

// ValidationError is one problem in a configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the whole configuration. Call it after defaults are
// applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	c.validateControl(&errs)
	c.validateTransport(&errs)

	if c.Ctl == nil || c.Ctl.Socket == "" {
		errs.add("ctl.socket", "must not be empty")
	}
	if c.Ctl != nil {
		for _, uid := range c.Ctl.AdminUIDs {
			if uid < 0 || int64(uid) > math.MaxUint32 {
				errs.add("ctl.admin_uids", "out of range: %d", uid)
			}
		}
	}
	if c.Metrics != nil && c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs.add("metrics.listen", "%v", err)
		}
	}
	if c.Logging != nil {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			errs.add("logging.level", "%v", err)
		}
	}
	return errs
}

func (c *Config) validateControl(errs *ValidationErrors) {
	ctl := c.Control
	if ctl == nil {
		errs.add("control", "missing")
		return
	}

	d, err := time.ParseDuration(ctl.Timeout)
	switch {
	case err != nil:
		errs.add("control.timeout", "%v", err)
	case d <= 0:
		errs.add("control.timeout", "must be positive, got %s", ctl.Timeout)
	}

	if ctl.GroupID <= 0 || int64(ctl.GroupID) > math.MaxUint32 {
		errs.add("control.group_id", "out of range: %d", ctl.GroupID)
	}
	if ctl.FamilyID <= 0 || ctl.FamilyID > math.MaxUint16 {
		errs.add("control.family_id", "out of range: %d", ctl.FamilyID)
	}
	if s := ctl.InitialSequence; s != nil && (*s < 0 || *s > math.MaxUint32) {
		errs.add("control.initial_sequence", "out of range: %d", *s)
	}
}

func (c *Config) validateTransport(errs *ValidationErrors) {
	t := c.Transport
	if t == nil {
		errs.add("transport", "missing")
		return
	}
	switch t.Kind {
	case TransportMemory:
	case TransportUDP:
		addr, err := net.ResolveUDPAddr("udp4", t.Group)
		if err != nil {
			errs.add("transport.group", "%v", err)
		} else if !addr.IP.IsMulticast() {
			errs.add("transport.group", "%s is not a multicast address", addr.IP)
		}
		if t.Listen != "" {
			if _, err := net.ResolveUDPAddr("udp4", t.Listen); err != nil {
				errs.add("transport.listen", "%v", err)
			}
		}
		if t.TTL < 0 || t.TTL > 255 {
			errs.add("transport.ttl", "out of range: %d", t.TTL)
		}
		if _, err := t.PeerPrefixes(); err != nil {
			errs.add("transport.allowed_peers", "%v", err)
		}
	default:
		errs.add("transport.kind", "must be %q or %q, got %q", TransportMemory, TransportUDP, t.Kind)
	}
	if t.QueueSize < 0 {
		errs.add("transport.queue_size", "must not be negative")
	}
}
