package event

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zxhio/telemetry-int/internal/errcode"
	"github.com/zxhio/telemetry-int/internal/metrics"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/topology"
)

const (
	TopicEVCsLoaded       = "mef_eline.evcs_loaded"
	TopicEVCDeleted       = "mef_eline.deleted"
	TopicEVCUndeployed    = "mef_eline.undeployed"
	TopicFailoverLinkDown = "mef_eline.failover_link_down"
	TopicFailoverOldPath  = "mef_eline.failover_old_path"
	TopicFailoverDeployed = "mef_eline.failover_deployed"
	TopicTopologyLoaded   = "topology.topology_loaded"
	TopicLinkDown         = "topology.link_down"
	TopicLinkUp           = "topology.link_up"
	TopicMetadataAdded    = "topology.interfaces.metadata.added"
	TopicMetadataRemoved  = "topology.interfaces.metadata.removed"
	TopicFlowError        = "flow_manager.flow.error"
	TopicEnableTable      = "of_multi_table.enable_table"

	// TopicTableGroups is published with the merged table groups.
	TopicTableGroups = "telemetry_int.enable_table"
)

// Topics lists the topics accepted for ingestion.
var Topics = []string{
	TopicEVCsLoaded,
	TopicEVCDeleted,
	TopicEVCUndeployed,
	TopicFailoverLinkDown,
	TopicFailoverOldPath,
	TopicFailoverDeployed,
	TopicTopologyLoaded,
	TopicLinkDown,
	TopicLinkUp,
	TopicMetadataAdded,
	TopicMetadataRemoved,
	TopicFlowError,
	TopicEnableTable,
}

// Reactor is what the lifecycle manager exposes to events.
type Reactor interface {
	LoadUNISrcProxyPorts(circuits model.Circuits)
	HandleEVCDeleted(ctx context.Context, c *model.Circuit) error
	HandleEVCUndeployed(ctx context.Context, c *model.Circuit) error
	HandleFailoverFlows(ctx context.Context, events map[string]*model.FailoverCircuit, eventName string) error
	HandlePPLinkDown(ctx context.Context, link *model.Link) error
	HandlePPLinkUp(ctx context.Context, link *model.Link) error
	HandlePPMetadataAdded(ctx context.Context, intf *model.Interface) error
	HandlePPMetadataRemoved(ctx context.Context, intf *model.Interface) error
	HandleFlowError(ctx context.Context, fe *model.FlowError) error
	UpdateTableGroups(groups map[string]uint8) (map[string]uint8, error)
}

type LinkContent struct {
	Link *model.Link `json:"link"`
}

type InterfaceContent struct {
	Interface *model.Interface `json:"interface"`
}

type TopologyContent struct {
	Interfaces []*model.Interface `json:"interfaces"`
	Links      []*model.Link      `json:"links"`
}

// EnableTableContent is published on telemetry_int.enable_table.
type EnableTableContent struct {
	GroupTable map[string]uint8 `json:"group_table"`
}

// Bus decodes ingested events and runs the matching reaction. Reactions of
// one topic run in order, different topics run concurrently. Publishing only
// queues the event and never waits for a reaction.
type Bus struct {
	bus     evbus.Bus
	reactor Reactor
	store   *topology.Store
	timeout time.Duration

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

// queue holds the events of one topic not yet handled. At most one drain
// goroutine runs per queue.
type queue struct {
	events  [][]byte
	running bool
}

type Opt func(*Bus)

// WithHandlerTimeout bounds every reaction, 0 means no bound.
func WithHandlerTimeout(d time.Duration) Opt {
	return func(b *Bus) { b.timeout = d }
}

func NewBus(reactor Reactor, store *topology.Store, opts ...Opt) (*Bus, error) {
	b := &Bus{bus: evbus.New(), reactor: reactor, store: store}
	b.idle = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}

	handlers := map[string]func([]byte){
		TopicEVCsLoaded:       b.onEVCsLoaded,
		TopicEVCDeleted:       b.onEVCDeleted,
		TopicEVCUndeployed:    b.onEVCUndeployed,
		TopicFailoverLinkDown: b.onFailover(TopicFailoverLinkDown),
		TopicFailoverOldPath:  b.onFailover(TopicFailoverOldPath),
		TopicFailoverDeployed: b.onFailover(TopicFailoverDeployed),
		TopicTopologyLoaded:   b.onTopologyLoaded,
		TopicLinkDown:         b.onLinkDown,
		TopicLinkUp:           b.onLinkUp,
		TopicMetadataAdded:    b.onMetadataAdded,
		TopicMetadataRemoved:  b.onMetadataRemoved,
		TopicFlowError:        b.onFlowError,
		TopicEnableTable:      b.onEnableTable,
	}
	for topic, fn := range handlers {
		if err := b.bus.Subscribe(topic, b.enqueue(fn)); err != nil {
			return nil, errors.Wrapf(err, "subscribe %s", topic)
		}
	}
	return b, nil
}

// Subscribe registers a synchronous listener, used for the topics this
// service publishes.
func (b *Bus) Subscribe(topic string, fn any) error {
	return b.bus.Subscribe(topic, fn)
}

// Publish validates the raw content of an ingested event and queues it.
func (b *Bus) Publish(topic string, content json.RawMessage) error {
	if !slices.Contains(Topics, topic) {
		return errcode.New(errcode.CodeNotFound, "unknown event %s", topic)
	}
	if !json.Valid(content) {
		return errcode.New(errcode.CodeInvalid, "invalid content of event %s", topic)
	}
	b.bus.Publish(topic, []byte(content))
	return nil
}

// Wait blocks until every queued reaction has run.
func (b *Bus) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending > 0 {
		b.idle.Wait()
	}
}

// enqueue returns the subscriber of a topic, it appends the event to the
// topic queue and starts a drain goroutine when none is running.
func (b *Bus) enqueue(fn func([]byte)) func([]byte) {
	q := &queue{}
	return func(data []byte) {
		b.mu.Lock()
		b.pending++
		q.events = append(q.events, data)
		start := !q.running
		q.running = true
		b.mu.Unlock()

		if start {
			go b.drain(q, fn)
		}
	}
}

func (b *Bus) drain(q *queue, fn func([]byte)) {
	for {
		b.mu.Lock()
		if len(q.events) == 0 {
			q.running = false
			b.mu.Unlock()
			return
		}
		data := q.events[0]
		q.events[0] = nil
		q.events = q.events[1:]
		b.mu.Unlock()

		fn(data)

		b.mu.Lock()
		b.pending--
		if b.pending == 0 {
			b.idle.Broadcast()
		}
		b.mu.Unlock()
	}
}

// LinkNotifier adapts local link state changes into link events.
func (b *Bus) LinkNotifier() topology.LinkNotifier {
	return func(link *model.Link, status model.Status) {
		topic := TopicLinkDown
		if status == model.StatusUp {
			topic = TopicLinkUp
		}
		data, err := json.Marshal(LinkContent{Link: link})
		if err != nil {
			logrus.WithError(err).WithField("link", link.ID).Error("Fail to encode link event")
			return
		}
		b.bus.Publish(topic, data)
	}
}

func (b *Bus) run(topic string, fn func(ctx context.Context) error) {
	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	if err := fn(ctx); err != nil {
		metrics.EventFailures.WithLabelValues(topic).Inc()
		logrus.WithError(err).WithField("event", topic).Error("Fail to handle event")
	}
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, errors.Wrap(err, "json.Unmarshal")
}

func (b *Bus) onEVCsLoaded(data []byte) {
	b.run(TopicEVCsLoaded, func(context.Context) error {
		circuits, err := model.ParseCircuits(data)
		if err != nil {
			return err
		}
		b.reactor.LoadUNISrcProxyPorts(circuits)
		return nil
	})
}

func (b *Bus) onEVCDeleted(data []byte) {
	b.run(TopicEVCDeleted, func(ctx context.Context) error {
		c, err := parseEVCContent(data)
		if err != nil {
			return err
		}
		return b.reactor.HandleEVCDeleted(ctx, c)
	})
}

func (b *Bus) onEVCUndeployed(data []byte) {
	b.run(TopicEVCUndeployed, func(ctx context.Context) error {
		c, err := parseEVCContent(data)
		if err != nil {
			return err
		}
		return b.reactor.HandleEVCUndeployed(ctx, c)
	})
}

// parseEVCContent accepts circuits keyed by evc_id as well as by id.
func parseEVCContent(data []byte) (*model.Circuit, error) {
	var alias struct {
		EVCID string `json:"evc_id"`
	}
	if err := json.Unmarshal(data, &alias); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal")
	}
	c, err := decode[model.Circuit](data)
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = alias.EVCID
	}
	return &c, c.Validate()
}

func (b *Bus) onFailover(topic string) func([]byte) {
	return func(data []byte) {
		b.run(topic, func(ctx context.Context) error {
			events, err := decode[map[string]*model.FailoverCircuit](data)
			if err != nil {
				return err
			}
			return b.reactor.HandleFailoverFlows(ctx, events, topic)
		})
	}
}

func (b *Bus) onTopologyLoaded(data []byte) {
	b.run(TopicTopologyLoaded, func(context.Context) error {
		content, err := decode[TopologyContent](data)
		if err != nil {
			return err
		}
		for _, intf := range content.Interfaces {
			if err := b.store.UpsertInterface(intf); err != nil {
				return err
			}
		}
		for _, link := range content.Links {
			b.store.UpsertLink(link)
		}
		logrus.WithFields(logrus.Fields{"interfaces": len(content.Interfaces), "links": len(content.Links)}).Info("Loaded topology")
		return nil
	})
}

func (b *Bus) onLinkDown(data []byte) {
	b.run(TopicLinkDown, func(ctx context.Context) error {
		link, err := b.storeLink(data)
		if err != nil {
			return err
		}
		return b.reactor.HandlePPLinkDown(ctx, link)
	})
}

func (b *Bus) onLinkUp(data []byte) {
	b.run(TopicLinkUp, func(ctx context.Context) error {
		link, err := b.storeLink(data)
		if err != nil {
			return err
		}
		return b.reactor.HandlePPLinkUp(ctx, link)
	})
}

func (b *Bus) storeLink(data []byte) (*model.Link, error) {
	content, err := decode[LinkContent](data)
	if err != nil {
		return nil, err
	}
	if content.Link == nil {
		return nil, errors.New("missing link")
	}
	b.store.UpsertLink(content.Link)
	return content.Link, nil
}

func (b *Bus) onMetadataAdded(data []byte) {
	b.run(TopicMetadataAdded, func(ctx context.Context) error {
		intf, err := b.storeInterface(data)
		if err != nil {
			return err
		}
		return b.reactor.HandlePPMetadataAdded(ctx, intf)
	})
}

func (b *Bus) onMetadataRemoved(data []byte) {
	b.run(TopicMetadataRemoved, func(ctx context.Context) error {
		intf, err := b.storeInterface(data)
		if err != nil {
			return err
		}
		return b.reactor.HandlePPMetadataRemoved(ctx, intf)
	})
}

func (b *Bus) storeInterface(data []byte) (*model.Interface, error) {
	content, err := decode[InterfaceContent](data)
	if err != nil {
		return nil, err
	}
	if content.Interface == nil {
		return nil, errors.New("missing interface")
	}
	if err := b.store.UpsertInterface(content.Interface); err != nil {
		return nil, err
	}
	intf, _ := b.store.GetInterfaceByID(content.Interface.ID)
	return intf, nil
}

func (b *Bus) onFlowError(data []byte) {
	b.run(TopicFlowError, func(ctx context.Context) error {
		fe, err := decode[model.FlowError](data)
		if err != nil {
			return err
		}
		return b.reactor.HandleFlowError(ctx, &fe)
	})
}

func (b *Bus) onEnableTable(data []byte) {
	b.run(TopicEnableTable, func(context.Context) error {
		content, err := decode[map[string]map[string]uint8](data)
		if err != nil {
			return err
		}
		merged, err := b.reactor.UpdateTableGroups(content["telemetry_int"])
		if err != nil || merged == nil {
			return err
		}
		b.bus.Publish(TopicTableGroups, EnableTableContent{GroupTable: merged})
		return nil
	})
}
