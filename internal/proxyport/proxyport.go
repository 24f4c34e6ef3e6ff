package proxyport

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/topology"
)

// ProxyPort is a physical loopback: traffic sent out of the source interface
// comes back on the destination interface of the same switch, which lets INT
// headers be pushed and popped without native hardware support.
type ProxyPort struct {
	topo topology.Topology

	mu       *sync.RWMutex
	sourceID string
	evcIDs   map[string]struct{}
}

func New(topo topology.Topology, sourceID string) *ProxyPort {
	return &ProxyPort{
		topo:     topo,
		mu:       &sync.RWMutex{},
		sourceID: sourceID,
		evcIDs:   make(map[string]struct{}),
	}
}

func (p *ProxyPort) SourceID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sourceID
}

// SetSource repoints the proxy port keeping its circuit back-references.
func (p *ProxyPort) SetSource(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceID = id
}

func (p *ProxyPort) Source() (*model.Interface, bool) {
	return p.topo.GetInterfaceByID(p.SourceID())
}

// Destination follows the live link of the source to its far endpoint.
func (p *ProxyPort) Destination() (*model.Interface, bool) {
	dst, _, ok := p.destination()
	return dst, ok
}

func (p *ProxyPort) destination() (*model.Interface, *model.Link, bool) {
	src, ok := p.Source()
	if !ok || src.Link == "" {
		return nil, nil, false
	}
	link, ok := p.topo.GetLink(src.Link)
	if !ok {
		return nil, nil, false
	}
	peerID, ok := link.Peer(src.ID)
	if !ok {
		return nil, nil, false
	}
	dst, ok := p.topo.GetInterfaceByID(peerID)
	if !ok {
		return nil, nil, false
	}
	return dst, link, true
}

// Status is UP only when source, destination and their link are all UP
// without any status reason.
func (p *ProxyPort) Status() model.Status {
	src, ok := p.Source()
	if !ok {
		return model.StatusDown
	}
	dst, link, ok := p.destination()
	if !ok {
		return model.StatusDown
	}
	if src.IsUp() && dst.IsUp() && link.IsUp() {
		return model.StatusUp
	}
	return model.StatusDown
}

func (p *ProxyPort) AddEVC(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evcIDs[id] = struct{}{}
}

func (p *ProxyPort) DiscardEVC(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.evcIDs, id)
}

func (p *ProxyPort) HasEVC(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.evcIDs[id]
	return ok
}

func (p *ProxyPort) EVCIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := lo.Keys(p.evcIDs)
	slices.Sort(ids)
	return ids
}

func (p *ProxyPort) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.evcIDs)
}

// Ref snapshots the resolved ports for rule construction.
func (p *ProxyPort) Ref() *model.ProxyPortRef {
	ref := &model.ProxyPortRef{SourceID: p.SourceID(), Status: p.Status()}
	if src, ok := p.Source(); ok {
		ref.SourcePort = src.PortNumber
	}
	if dst, ok := p.Destination(); ok {
		ref.DestinationID = dst.ID
		ref.DestinationPort = dst.PortNumber
	}
	return ref
}

func (p *ProxyPort) String() string {
	dst := "none"
	if d, ok := p.Destination(); ok {
		dst = d.ID
	}
	return fmt.Sprintf("ProxyPort(source=%s, destination=%s, status=%s)", p.SourceID(), dst, p.Status())
}
