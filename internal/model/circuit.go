package model

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/zxhio/telemetry-int/pkg/cookie"
)

type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

type StatusReason string

const (
	ReasonNoFlows                  StatusReason = "no_flows"
	ReasonProxyPortDown            StatusReason = "proxy_port_down"
	ReasonProxyPortError           StatusReason = "proxy_port_error"
	ReasonProxyPortMetadataRemoved StatusReason = "proxy_port_metadata_removed"
	ReasonDisabled                 StatusReason = "disabled"
	ReasonUndeployed               StatusReason = "undeployed"
	ReasonOFPTError                StatusReason = "ofpt_error"
)

// TimeLayout is the status_updated_at format.
const TimeLayout = "2006-01-02T15:04:05"

type TelemetryMetadata struct {
	Enabled         bool           `json:"enabled"`
	Status          Status         `json:"status"`
	StatusReason    []StatusReason `json:"status_reason"`
	StatusUpdatedAt string         `json:"status_updated_at,omitempty"`
}

// NewTelemetryMetadata stamps the metadata with the current UTC time.
func NewTelemetryMetadata(enabled bool, status Status, reasons ...StatusReason) TelemetryMetadata {
	if reasons == nil {
		reasons = []StatusReason{}
	}
	return TelemetryMetadata{
		Enabled:         enabled,
		Status:          status,
		StatusReason:    reasons,
		StatusUpdatedAt: time.Now().UTC().Format(TimeLayout),
	}
}

// With returns a copy with a different status and reasons.
func (m TelemetryMetadata) With(status Status, reasons ...StatusReason) TelemetryMetadata {
	if reasons == nil {
		reasons = []StatusReason{}
	}
	m.Status = status
	m.StatusReason = reasons
	return m
}

type Metadata struct {
	Telemetry *TelemetryMetadata `json:"telemetry,omitempty"`
}

type Tag struct {
	TagType string `json:"tag_type,omitempty"`
	Value   any    `json:"value,omitempty"`
}

// ProxyPortRef is a resolved proxy port snapshot attached to an endpoint
// for the duration of one operation.
type ProxyPortRef struct {
	SourceID        string `json:"source_id"`
	SourcePort      uint32 `json:"source_port"`
	DestinationID   string `json:"destination_id"`
	DestinationPort uint32 `json:"destination_port"`
	Status          Status `json:"status"`
}

type Endpoint struct {
	InterfaceID string        `json:"interface_id"`
	Tag         *Tag          `json:"tag,omitempty"`
	ProxyPort   *ProxyPortRef `json:"-"`
}

func (e Endpoint) SwitchID() string {
	sw, _, _ := SplitInterfaceID(e.InterfaceID)
	return sw
}

func (e Endpoint) PortNumber() uint32 {
	_, port, _ := SplitInterfaceID(e.InterfaceID)
	return port
}

type Circuit struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	UNIA     Endpoint `json:"uni_a"`
	UNIZ     Endpoint `json:"uni_z"`
	Active   bool     `json:"active"`
	Archived bool     `json:"archived"`
	Enabled  bool     `json:"enabled"`
	Metadata Metadata `json:"metadata"`
}

func (c *Circuit) Validate() error {
	if !cookie.ValidID(c.ID) {
		return errors.Errorf("invalid circuit id: %q", c.ID)
	}
	for _, e := range []Endpoint{c.UNIA, c.UNIZ} {
		if _, _, err := SplitInterfaceID(e.InterfaceID); err != nil {
			return errors.Wrapf(err, "circuit %s", c.ID)
		}
	}
	return nil
}

func (c *Circuit) HasINTEnabled() bool {
	return c != nil && c.Metadata.Telemetry != nil && c.Metadata.Telemetry.Enabled
}

func (c *Circuit) TelemetryStatus() Status {
	if c == nil || c.Metadata.Telemetry == nil {
		return ""
	}
	return c.Metadata.Telemetry.Status
}

// IsIntraSwitch reports whether both UNIs terminate on the same switch.
func (c *Circuit) IsIntraSwitch() bool {
	return c.UNIA.SwitchID() == c.UNIZ.SwitchID()
}

// Clone copies the circuit so proxy port resolution never leaks into the
// caller's snapshot.
func (c *Circuit) Clone() *Circuit {
	if c == nil {
		return nil
	}
	cc := *c
	if c.Metadata.Telemetry != nil {
		t := *c.Metadata.Telemetry
		t.StatusReason = append([]StatusReason(nil), t.StatusReason...)
		cc.Metadata.Telemetry = &t
	}
	if c.UNIA.ProxyPort != nil {
		pp := *c.UNIA.ProxyPort
		cc.UNIA.ProxyPort = &pp
	}
	if c.UNIZ.ProxyPort != nil {
		pp := *c.UNIZ.ProxyPort
		cc.UNIZ.ProxyPort = &pp
	}
	return &cc
}

// Circuits maps a circuit id to its snapshot. A nil value means the id was
// requested but does not exist.
type Circuits map[string]*Circuit

func (cs Circuits) IDs() []string {
	ids := lo.Keys(cs)
	slices.Sort(ids)
	return ids
}

// ParseCircuits decodes a circuit-id keyed payload and validates every record.
func ParseCircuits(data []byte) (Circuits, error) {
	var raw map[string]*Circuit
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal")
	}

	circuits := make(Circuits, len(raw))
	for id, c := range raw {
		if c == nil {
			return nil, errors.Errorf("circuit %s: empty record", id)
		}
		if c.ID == "" {
			c.ID = id
		}
		if c.ID != id {
			return nil, errors.Errorf("circuit %s: mismatched id %s", id, c.ID)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		circuits[id] = c
	}
	return circuits, nil
}

// ParseCircuit decodes and validates a single circuit record.
func ParseCircuit(data []byte) (*Circuit, error) {
	var c Circuit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SplitInterfaceID splits "<dpid>:<port>" where the dpid itself contains colons.
func SplitInterfaceID(id string) (string, uint32, error) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, errors.Errorf("invalid interface id: %q", id)
	}
	port, err := strconv.ParseUint(id[idx+1:], 10, 32)
	if err != nil {
		return "", 0, errors.Errorf("invalid interface id: %q", id)
	}
	return id[:idx], uint32(port), nil
}

func InterfaceID(switchID string, port uint32) string {
	return switchID + ":" + strconv.FormatUint(uint64(port), 10)
}
