package event

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/zxhio/telemetry-int/internal/errcode"
	"github.com/zxhio/telemetry-int/internal/metrics"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/topology"
)

const (
	sw1   = "00:00:00:00:00:00:00:01"
	evcID = "3766c105686749"
)

type call struct {
	name string
	arg  any
}

type fakeReactor struct {
	mu    sync.Mutex
	calls []call
	err   error

	// block holds link down reactions until closed.
	block chan struct{}
}

func (r *fakeReactor) record(name string, arg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name, arg})
	return r.err
}

func (r *fakeReactor) LoadUNISrcProxyPorts(circuits model.Circuits) {
	r.record("load", circuits)
}

func (r *fakeReactor) HandleEVCDeleted(_ context.Context, c *model.Circuit) error {
	return r.record("deleted", c)
}

func (r *fakeReactor) HandleEVCUndeployed(_ context.Context, c *model.Circuit) error {
	return r.record("undeployed", c)
}

func (r *fakeReactor) HandleFailoverFlows(_ context.Context, events map[string]*model.FailoverCircuit, name string) error {
	return r.record(name, events)
}

func (r *fakeReactor) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		names = append(names, c.name)
	}
	return names
}

func (r *fakeReactor) HandlePPLinkDown(_ context.Context, link *model.Link) error {
	if r.block != nil {
		<-r.block
	}
	return r.record("link_down", link)
}

func (r *fakeReactor) HandlePPLinkUp(_ context.Context, link *model.Link) error {
	return r.record("link_up", link)
}

func (r *fakeReactor) HandlePPMetadataAdded(_ context.Context, intf *model.Interface) error {
	return r.record("metadata_added", intf)
}

func (r *fakeReactor) HandlePPMetadataRemoved(_ context.Context, intf *model.Interface) error {
	return r.record("metadata_removed", intf)
}

func (r *fakeReactor) HandleFlowError(_ context.Context, fe *model.FlowError) error {
	return r.record("flow_error", fe)
}

func (r *fakeReactor) UpdateTableGroups(groups map[string]uint8) (map[string]uint8, error) {
	if err := r.record("table_groups", groups); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return map[string]uint8{"evpl": 2, "epl": groups["epl"]}, nil
}

func newTestBus(t *testing.T) (*Bus, *fakeReactor, *topology.Store) {
	store := topology.NewStore()
	for _, id := range []string{sw1 + ":1", sw1 + ":5", sw1 + ":6"} {
		assert.NoError(t, store.UpsertInterface(&model.Interface{ID: id, Status: model.StatusUp}))
	}
	r := &fakeReactor{}
	b, err := NewBus(r, store)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return b, r, store
}

func publish(t *testing.T, b *Bus, topic, content string) {
	assert.NoError(t, b.Publish(topic, json.RawMessage(content)))
	b.Wait()
}

func TestPublishRejects(t *testing.T) {
	b, r, _ := newTestBus(t)

	err := b.Publish("kytos/of_lldp.loop.detected", json.RawMessage(`{}`))
	assert.Equal(t, errcode.CodeNotFound, errcode.CodeOf(err))

	err = b.Publish(TopicLinkDown, json.RawMessage(`{"link":`))
	assert.Equal(t, errcode.CodeInvalid, errcode.CodeOf(err))

	b.Wait()
	assert.Empty(t, r.calls)
}

func TestPublishDoesNotWaitForReaction(t *testing.T) {
	b, r, _ := newTestBus(t)
	r.block = make(chan struct{})
	unblock := sync.OnceFunc(func() { close(r.block) })
	defer unblock()

	down := json.RawMessage(`{"link": {"id": "loop1", "endpoint_a": "` + sw1 + `:5", "endpoint_b": "` + sw1 + `:6", "status": "DOWN"}}`)
	up := json.RawMessage(`{"link": {"id": "loop2", "endpoint_a": "` + sw1 + `:7", "endpoint_b": "` + sw1 + `:8", "status": "UP"}}`)
	assert.NoError(t, b.Publish(TopicLinkDown, down))

	done := make(chan error, 1)
	go func() { done <- b.Publish(TopicLinkDown, down) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish waited for the running link down reaction")
	}

	// Other topics keep flowing while link down is held.
	assert.NoError(t, b.Publish(TopicLinkUp, up))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"link_up"}, r.names())
	}, time.Second, 10*time.Millisecond)

	unblock()
	b.Wait()
	assert.Equal(t, []string{"link_up", "link_down", "link_down"}, r.names())
}

func TestLinkEvents(t *testing.T) {
	b, r, store := newTestBus(t)

	publish(t, b, TopicLinkDown, `{"link": {"id": "loop1", "endpoint_a": "`+sw1+`:5", "endpoint_b": "`+sw1+`:6", "status": "DOWN"}}`)
	publish(t, b, TopicLinkUp, `{"link": {"id": "loop1", "endpoint_a": "`+sw1+`:5", "endpoint_b": "`+sw1+`:6", "status": "UP"}}`)

	if assert.Len(t, r.calls, 2) {
		assert.Equal(t, "link_down", r.calls[0].name)
		assert.Equal(t, model.StatusDown, r.calls[0].arg.(*model.Link).Status)
		assert.Equal(t, "link_up", r.calls[1].name)
	}
	link, ok := store.GetLink("loop1")
	if assert.True(t, ok) {
		assert.Equal(t, model.StatusUp, link.Status)
	}
	intf, _ := store.GetInterfaceByID(sw1 + ":5")
	assert.Equal(t, "loop1", intf.Link)
}

func TestMetadataEvents(t *testing.T) {
	b, r, store := newTestBus(t)

	publish(t, b, TopicMetadataAdded, `{"interface": {"id": "`+sw1+`:1", "status": "UP", "metadata": {"proxy_port": 5}}}`)
	publish(t, b, TopicMetadataRemoved, `{"interface": {"id": "`+sw1+`:1", "status": "UP", "metadata": {}}}`)

	if assert.Len(t, r.calls, 2) {
		added := r.calls[0].arg.(*model.Interface)
		assert.Equal(t, "metadata_added", r.calls[0].name)
		assert.Equal(t, sw1, added.Switch)
		port, ok := added.ProxyPortNumber()
		assert.True(t, ok)
		assert.Equal(t, uint32(5), port)

		assert.Equal(t, "metadata_removed", r.calls[1].name)
		assert.False(t, r.calls[1].arg.(*model.Interface).HasProxyPortMetadata())
	}
	intf, _ := store.GetInterfaceByID(sw1 + ":1")
	assert.False(t, intf.HasProxyPortMetadata())
}

func TestCircuitEvents(t *testing.T) {
	b, r, _ := newTestBus(t)
	evc := `{"name": "evc1", "uni_a": {"interface_id": "` + sw1 + `:1"}, "uni_z": {"interface_id": "` + sw1 + `:2"},
		"active": true, "enabled": false, "metadata": {"telemetry": {"enabled": true, "status": "UP", "status_reason": []}}`

	publish(t, b, TopicEVCsLoaded, `{"`+evcID+`": `+evc+`}}`)
	publish(t, b, TopicEVCDeleted, `{"evc_id": "`+evcID+`", `+evc[1:]+`}`)
	publish(t, b, TopicEVCUndeployed, `{"id": "`+evcID+`", `+evc[1:]+`}`)
	publish(t, b, TopicFailoverLinkDown, `{"`+evcID+`": {"id": "`+evcID+`", `+evc[1:]+`,
		"flows": {"`+sw1+`": [{"cookie": 12265385089372284745, "match": {"in_port": 1}}]}}}`)

	if !assert.Len(t, r.calls, 4) {
		return
	}
	loaded := r.calls[0].arg.(model.Circuits)
	assert.True(t, loaded[evcID].HasINTEnabled())

	assert.Equal(t, "deleted", r.calls[1].name)
	assert.Equal(t, evcID, r.calls[1].arg.(*model.Circuit).ID)
	assert.Equal(t, "undeployed", r.calls[2].name)
	assert.False(t, r.calls[2].arg.(*model.Circuit).Enabled)

	assert.Equal(t, TopicFailoverLinkDown, r.calls[3].name)
	events := r.calls[3].arg.(map[string]*model.FailoverCircuit)
	if assert.Contains(t, events, evcID) {
		assert.Equal(t, "evc1", events[evcID].Name)
		assert.Equal(t, uint64(0xAA3766c105686749), events[evcID].Flows[sw1][0].Cookie)
	}
}

func TestFlowErrorEvent(t *testing.T) {
	b, r, _ := newTestBus(t)
	publish(t, b, TopicFlowError, `{"flow": {"cookie": 1, "table_id": 2}, "error_command": "add", "error_type": 5, "error_code": 6}`)

	if assert.Len(t, r.calls, 1) {
		fe := r.calls[0].arg.(*model.FlowError)
		assert.Equal(t, model.FlowCommandAdd, fe.ErrorCommand)
		assert.Equal(t, 5, fe.ErrorType)
		assert.Equal(t, uint8(2), fe.Flow.TableID)
	}
}

func TestEnableTableRepublishes(t *testing.T) {
	b, r, _ := newTestBus(t)

	var (
		mu   sync.Mutex
		seen []EnableTableContent
	)
	assert.NoError(t, b.Subscribe(TopicTableGroups, func(c EnableTableContent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c)
	}))

	publish(t, b, TopicEnableTable, `{"mef_eline": {"evpl": 4}}`)
	publish(t, b, TopicEnableTable, `{"telemetry_int": {"epl": 5}}`)

	assert.Len(t, r.calls, 2)
	assert.Equal(t, []EnableTableContent{{GroupTable: map[string]uint8{"evpl": 2, "epl": 5}}}, seen)
}

func TestReactionFailureIsCounted(t *testing.T) {
	b, r, _ := newTestBus(t)
	r.err = errors.New("repository unavailable")
	before := testutil.ToFloat64(metrics.EventFailures.WithLabelValues(TopicLinkUp))

	publish(t, b, TopicLinkUp, `{"link": {"id": "loop1", "endpoint_a": "`+sw1+`:5", "endpoint_b": "`+sw1+`:6", "status": "UP"}}`)
	publish(t, b, TopicLinkUp, `{}`)

	assert.Len(t, r.calls, 1)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.EventFailures.WithLabelValues(TopicLinkUp)))
}

func TestLinkNotifier(t *testing.T) {
	b, r, _ := newTestBus(t)
	b.LinkNotifier()(&model.Link{ID: "loop1", EndpointA: sw1 + ":5", EndpointB: sw1 + ":6", Status: model.StatusUp}, model.StatusUp)
	b.Wait()

	if assert.Len(t, r.calls, 1) {
		assert.Equal(t, "link_up", r.calls[0].name)
	}
}
