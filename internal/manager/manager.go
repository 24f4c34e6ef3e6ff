package manager

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/zxhio/telemetry-int/internal/dispatch"
	"github.com/zxhio/telemetry-int/internal/errcode"
	"github.com/zxhio/telemetry-int/internal/flowbuilder"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/proxyport"
	"github.com/zxhio/telemetry-int/internal/repository"
	"github.com/zxhio/telemetry-int/internal/topology"
	"github.com/zxhio/telemetry-int/pkg/cookie"
)

// Repository is the source of truth for circuits and stored rules.
type Repository interface {
	GetCircuits(ctx context.Context, filter repository.Filter) (model.Circuits, error)
	GetCircuit(ctx context.Context, id string, excludeArchived bool) (model.Circuits, error)
	GetRuleRecords(ctx context.Context, ranges ...cookie.Range) (model.StoredRules, error)
	PatchCircuitMetadata(ctx context.Context, circuits model.Circuits, md model.TelemetryMetadata, force bool) error
}

type RuleBuilder interface {
	Build(circuits model.Circuits, base model.StoredRules) model.StoredRules
	UpdateTableGroups(groups map[string]uint8) map[string]uint8
}

type Sender interface {
	Send(ctx context.Context, switchFlows map[string][]model.Flow, cmd dispatch.Command) error
}

type options struct {
	intPrefix         cookie.Prefix
	mefPrefix         cookie.Prefix
	fallbackLoopDown  bool
	tableGroupAllowed []string
}

type Opt func(*options)

func WithCookiePrefixes(intPrefix, mefPrefix cookie.Prefix) Opt {
	return func(o *options) {
		o.intPrefix = intPrefix
		o.mefPrefix = mefPrefix
	}
}

// WithFallbackToMEFLoopDown controls whether a loop going down removes the
// telemetry rules of its circuits, leaving them on base forwarding.
func WithFallbackToMEFLoopDown(v bool) Opt {
	return func(o *options) { o.fallbackLoopDown = v }
}

func WithTableGroupAllowed(groups []string) Opt {
	return func(o *options) { o.tableGroupAllowed = groups }
}

// Manager drives the telemetry lifecycle of circuits.
type Manager struct {
	topo    topology.Topology
	repo    Repository
	builder RuleBuilder
	sender  Sender
	opts    options

	regMu   *sync.RWMutex
	srcsPP  map[string]*proxyport.ProxyPort // source interface id -> proxy port
	unisSrc map[string]string               // uni interface id -> source interface id

	topoLinkMu  *sync.Mutex
	intfMetaMu  *sync.Mutex
	flowErrorMu *sync.Mutex
}

func New(topo topology.Topology, repo Repository, builder RuleBuilder, sender Sender, opts ...Opt) *Manager {
	o := options{
		intPrefix:         cookie.PrefixINT,
		mefPrefix:         cookie.PrefixMEF,
		fallbackLoopDown:  true,
		tableGroupAllowed: []string{flowbuilder.TableGroupEVPL, flowbuilder.TableGroupEPL},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Manager{
		topo:        topo,
		repo:        repo,
		builder:     builder,
		sender:      sender,
		opts:        o,
		regMu:       &sync.RWMutex{},
		srcsPP:      make(map[string]*proxyport.ProxyPort),
		unisSrc:     make(map[string]string),
		topoLinkMu:  &sync.Mutex{},
		intfMetaMu:  &sync.Mutex{},
		flowErrorMu: &sync.Mutex{},
	}
}

// cachedProxyPort returns the proxy port of a source interface, creating it
// on first use.
func (m *Manager) cachedProxyPort(srcID string) *proxyport.ProxyPort {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	pp, ok := m.srcsPP[srcID]
	if !ok {
		pp = proxyport.New(m.topo, srcID)
		m.srcsPP[srcID] = pp
	}
	return pp
}

func (m *Manager) proxyPortBySource(srcID string) (*proxyport.ProxyPort, bool) {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	pp, ok := m.srcsPP[srcID]
	return pp, ok
}

// proxyPortByUNI looks up the registry only, without walking the topology.
func (m *Manager) proxyPortByUNI(uniID string) (*proxyport.ProxyPort, bool) {
	m.regMu.RLock()
	defer m.regMu.RUnlock()

	srcID, ok := m.unisSrc[uniID]
	if !ok {
		return nil, false
	}
	pp, ok := m.srcsPP[srcID]
	return pp, ok
}

func (m *Manager) proxyPortByLink(link *model.Link) (*proxyport.ProxyPort, bool) {
	if pp, ok := m.proxyPortBySource(link.EndpointA); ok {
		return pp, true
	}
	return m.proxyPortBySource(link.EndpointB)
}

func (m *Manager) setUNISource(uniID, srcID string) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	m.unisSrc[uniID] = srcID
}

func (m *Manager) hasUNISource(uniID string) (string, bool) {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	srcID, ok := m.unisSrc[uniID]
	return srcID, ok
}

// sourceOf follows the proxy_port metadata of a UNI to its loopback source.
func (m *Manager) sourceOf(uniID string) (*model.Interface, bool) {
	uni, ok := m.topo.GetInterfaceByID(uniID)
	if !ok {
		return nil, false
	}
	port, ok := uni.ProxyPortNumber()
	if !ok {
		return nil, false
	}
	return m.topo.GetInterfaceByPortNo(uni.Switch, port)
}

// proxyPortFor resolves the proxy port of a circuit UNI, failing with the
// precise reason it could not be resolved.
func (m *Manager) proxyPortFor(uniID, evcID string) (*proxyport.ProxyPort, error) {
	uni, ok := m.topo.GetInterfaceByID(uniID)
	if !ok {
		return nil, errcode.NewEVC(errcode.KindProxyPortNotFound, evcID, "UNI interface %s not found", uniID)
	}
	port, ok := uni.ProxyPortNumber()
	if !ok {
		return nil, errcode.NewEVC(errcode.KindProxyPortNotFound, evcID, "proxy_port metadata not found in %s", uniID)
	}
	src, ok := m.topo.GetInterfaceByPortNo(uni.Switch, port)
	if !ok {
		return nil, errcode.NewEVC(errcode.KindProxyPortNotFound, evcID, "proxy_port of %s source interface not found", uniID)
	}

	pp := m.cachedProxyPort(src.ID)
	if _, ok := pp.Destination(); !ok {
		return nil, errcode.NewEVC(errcode.KindProxyPortDestNotFound, evcID,
			"proxy_port of %s isn't looped or destination interface not found", uniID)
	}
	return pp, nil
}

// repoint moves a proxy port to a new source interface keeping its circuits.
func (m *Manager) repoint(pp *proxyport.ProxyPort, uniID, srcID string) {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if cur, ok := m.srcsPP[pp.SourceID()]; ok && cur == pp {
		delete(m.srcsPP, pp.SourceID())
	}
	pp.SetSource(srcID)
	if _, ok := m.srcsPP[srcID]; !ok {
		m.srcsPP[srcID] = pp
	}
	m.unisSrc[uniID] = srcID
}

// LoadUNISrcProxyPorts warms the registry from the circuits that already
// have telemetry enabled. UNIs without a resolvable source are skipped.
func (m *Manager) LoadUNISrcProxyPorts(circuits model.Circuits) {
	for _, id := range circuits.IDs() {
		c := circuits[id]
		if !c.HasINTEnabled() {
			continue
		}
		for _, uni := range []model.Endpoint{c.UNIA, c.UNIZ} {
			src, ok := m.sourceOf(uni.InterfaceID)
			if !ok {
				logrus.WithFields(logrus.Fields{"evc_id": id, "uni": uni.InterfaceID}).Debug("No proxy port source for UNI")
				continue
			}
			m.setUNISource(uni.InterfaceID, src.ID)
			m.cachedProxyPort(src.ID).AddEVC(id)
		}
	}
}

// ProxyPortInfo is a point in time view of a registered proxy port.
type ProxyPortInfo struct {
	Source      string       `json:"source"`
	Destination string       `json:"destination"`
	Status      model.Status `json:"status"`
	EVCIDs      []string     `json:"evc_ids"`
}

func (m *Manager) ProxyPorts() []ProxyPortInfo {
	m.regMu.RLock()
	pps := lo.Values(m.srcsPP)
	m.regMu.RUnlock()

	infos := lo.Map(lo.Uniq(pps), func(pp *proxyport.ProxyPort, _ int) ProxyPortInfo {
		ref := pp.Ref()
		return ProxyPortInfo{
			Source:      ref.SourceID,
			Destination: ref.DestinationID,
			Status:      ref.Status,
			EVCIDs:      pp.EVCIDs(),
		}
	})
	slices.SortFunc(infos, func(a, b ProxyPortInfo) int { return strings.Compare(a.Source, b.Source) })
	return infos
}

// UpdateTableGroups applies a table group mapping if every group is allowed
// and returns the merged mapping. An empty mapping is ignored.
func (m *Manager) UpdateTableGroups(groups map[string]uint8) (map[string]uint8, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	for group := range groups {
		if !slices.Contains(m.opts.tableGroupAllowed, group) {
			return nil, errcode.New(errcode.CodeInvalid,
				"table group %q is not allowed, allowed table groups are %v", group, m.opts.tableGroupAllowed)
		}
	}
	merged := m.builder.UpdateTableGroups(groups)
	logrus.WithField("table_groups", merged).Info("Updated table groups")
	return merged, nil
}

func (m *Manager) intCookie(id string) uint64 { return cookie.MustNew(id, m.opts.intPrefix) }
func (m *Manager) mefCookie(id string) uint64 { return cookie.MustNew(id, m.opts.mefPrefix) }

func (m *Manager) cookieRanges(ids []string, prefix cookie.Prefix) []cookie.Range {
	return lo.FilterMap(ids, func(id string, _ int) (cookie.Range, bool) {
		c, err := cookie.New(id, prefix)
		return cookie.Single(c), err == nil
	})
}

func (m *Manager) IntPrefix() cookie.Prefix { return m.opts.intPrefix }
func (m *Manager) MefPrefix() cookie.Prefix { return m.opts.mefPrefix }
