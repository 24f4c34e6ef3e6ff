package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// MetadataProxyPort is the interface metadata key binding a UNI to the port
// number of its loopback source.
const MetadataProxyPort = "proxy_port"

type Interface struct {
	ID           string         `json:"id"`
	Switch       string         `json:"switch"`
	PortNumber   uint32         `json:"port_number"`
	Name         string         `json:"name,omitempty"`
	Status       Status         `json:"status"`
	StatusReason []string       `json:"status_reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Link         string         `json:"link,omitempty"`
}

func (i *Interface) IsUp() bool {
	return i != nil && i.Status == StatusUp && len(i.StatusReason) == 0
}

// ProxyPortNumber returns the loopback source port number configured on the
// interface metadata.
func (i *Interface) ProxyPortNumber() (uint32, bool) {
	if i == nil || i.Metadata == nil {
		return 0, false
	}
	v, ok := i.Metadata[MetadataProxyPort]
	if !ok {
		return 0, false
	}
	return toPortNumber(v)
}

func (i *Interface) HasProxyPortMetadata() bool {
	_, ok := i.ProxyPortNumber()
	return ok
}

func (i *Interface) Clone() *Interface {
	if i == nil {
		return nil
	}
	ci := *i
	ci.StatusReason = append([]string(nil), i.StatusReason...)
	if i.Metadata != nil {
		ci.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			ci.Metadata[k] = v
		}
	}
	return &ci
}

type Link struct {
	ID           string   `json:"id"`
	EndpointA    string   `json:"endpoint_a"`
	EndpointB    string   `json:"endpoint_b"`
	Status       Status   `json:"status"`
	StatusReason []string `json:"status_reason,omitempty"`
}

func (l *Link) IsUp() bool {
	return l != nil && l.Status == StatusUp && len(l.StatusReason) == 0
}

// Peer returns the endpoint opposite to intfID.
func (l *Link) Peer(intfID string) (string, bool) {
	switch intfID {
	case l.EndpointA:
		return l.EndpointB, true
	case l.EndpointB:
		return l.EndpointA, true
	}
	return "", false
}

func (l *Link) Clone() *Link {
	if l == nil {
		return nil
	}
	cl := *l
	cl.StatusReason = append([]string(nil), l.StatusReason...)
	return &cl
}

func toPortNumber(v any) (uint32, bool) {
	switch n := v.(type) {
	case int:
		return toPortNumber(int64(n))
	case uint32:
		return n, true
	case int64:
		return uint32(n), n >= 0 && n <= math.MaxUint32
	case float64:
		return uint32(n), n >= 0 && n <= math.MaxUint32 && n == math.Trunc(n)
	case json.Number:
		i, err := n.Int64()
		return uint32(i), err == nil && i >= 0 && i <= math.MaxUint32
	case string:
		i, err := strconv.ParseUint(n, 10, 32)
		return uint32(i), err == nil
	}
	return 0, false
}
