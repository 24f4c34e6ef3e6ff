package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zxhio/telemetry-int/internal/model"
)

const dpid = "00:00:00:00:00:00:00:01"

func newLoopStore(t *testing.T) *Store {
	s := NewStore()
	for port, name := range map[uint32]string{5: "eth5", 6: "eth6"} {
		err := s.UpsertInterface(&model.Interface{ID: model.InterfaceID(dpid, port), Name: name, Status: model.StatusUp})
		assert.NoError(t, err)
	}
	s.UpsertLink(&model.Link{ID: "l1", EndpointA: dpid + ":5", EndpointB: dpid + ":6", Status: model.StatusUp})
	return s
}

func TestStoreLinks(t *testing.T) {
	s := newLoopStore(t)

	intf, ok := s.GetInterfaceByPortNo(dpid, 5)
	if !assert.True(t, ok) {
		return
	}
	assert.Equal(t, "l1", intf.Link)
	assert.Equal(t, dpid, intf.Switch)

	// Upsert without link keeps the known link.
	assert.NoError(t, s.UpsertInterface(&model.Interface{ID: dpid + ":5", Status: model.StatusDown}))
	intf, _ = s.GetInterfaceByID(dpid + ":5")
	assert.Equal(t, "l1", intf.Link)
	assert.Equal(t, model.StatusDown, intf.Status)

	s.RemoveLink("l1")
	intf, _ = s.GetInterfaceByID(dpid + ":6")
	assert.Empty(t, intf.Link)
	_, ok = s.GetLink("l1")
	assert.False(t, ok)
}

func TestStoreReturnsCopies(t *testing.T) {
	s := newLoopStore(t)
	assert.True(t, s.SetInterfaceMetadata(dpid+":5", map[string]any{"proxy_port": 6}))

	intf, _ := s.GetInterfaceByID(dpid + ":5")
	intf.Metadata["proxy_port"] = 9
	intf.Status = model.StatusDown

	again, _ := s.GetInterfaceByID(dpid + ":5")
	assert.Equal(t, 6, again.Metadata["proxy_port"])
	assert.Equal(t, model.StatusUp, again.Status)
	assert.False(t, s.SetInterfaceMetadata("missing:1", nil))
}

func TestUpsertInterfaceInvalidID(t *testing.T) {
	assert.Error(t, NewStore().UpsertInterface(&model.Interface{ID: "bad"}))
}

func TestNetlinkWatcherApply(t *testing.T) {
	s := newLoopStore(t)

	type change struct {
		link   string
		status model.Status
	}
	var changes []change
	w := NewNetlinkWatcher(s, dpid, func(l *model.Link, status model.Status) {
		changes = append(changes, change{l.ID, status})
	})

	w.Apply("eth6", false)
	w.Apply("eth6", false)
	w.Apply("unknown", false)
	w.Apply("eth6", true)

	assert.Equal(t, []change{{"l1", model.StatusDown}, {"l1", model.StatusUp}}, changes)
	link, _ := s.GetLink("l1")
	assert.Equal(t, model.StatusUp, link.Status)
}
