package flowbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/pkg/cookie"
)

const (
	evcID = "3766c105686749"
	sw1   = "00:00:00:00:00:00:00:01"
	sw2   = "00:00:00:00:00:00:00:02"
	sw3   = "00:00:00:00:00:00:00:03"
)

func vlan(v int) *int { return &v }

func baseFlow(inPort, outPort uint32, priority int, dlVlan *int) model.Flow {
	return model.Flow{
		Owner:    "mef_eline",
		Cookie:   cookie.MustNew(evcID, cookie.PrefixMEF),
		Priority: priority,
		Match:    model.Match{InPort: inPort, DlVlan: dlVlan},
		Instructions: []model.Instruction{{
			InstructionType: model.InstructionApplyActions,
			Actions: []model.Action{
				{ActionType: model.ActionSetVlan, VlanID: 200},
				{ActionType: model.ActionOutput, Port: outPort},
			},
		}},
	}
}

func circuit(uniA, uniZ string) model.Circuits {
	return model.Circuits{evcID: {
		ID:   evcID,
		UNIA: model.Endpoint{InterfaceID: uniA, ProxyPort: &model.ProxyPortRef{SourcePort: 5, DestinationPort: 6}},
		UNIZ: model.Endpoint{InterfaceID: uniZ, ProxyPort: &model.ProxyPortRef{SourcePort: 7, DestinationPort: 8}},
	}}
}

func TestBuildInterSwitch(t *testing.T) {
	b := New(cookie.PrefixINT, cookie.PrefixMEF)
	base := model.StoredRules{}
	base.Add(model.RuleRecord{Switch: sw1, Flow: baseFlow(1, 2, 20000, vlan(100))})
	base.Add(model.RuleRecord{Switch: sw1, Flow: baseFlow(2, 1, 20000, vlan(100))})
	base.Add(model.RuleRecord{Switch: sw2, Flow: baseFlow(3, 1, 20000, vlan(100))})
	base.Add(model.RuleRecord{Switch: sw3, Flow: baseFlow(1, 2, 20000, vlan(100))})

	rules := b.Build(circuit(sw1+":1", sw2+":1"), base)
	intCookie := cookie.MustNew(evcID, cookie.PrefixINT)
	assert.Equal(t, []uint64{intCookie}, rules.Cookies())

	bySwitch := rules.SwitchFlows()
	// source: 2 per proto; sink: 3 per proto; transit: 1 per proto.
	assert.Len(t, bySwitch[sw1], 10)
	assert.Len(t, bySwitch[sw2], 6)
	assert.Len(t, bySwitch[sw3], 2)

	for _, f := range bySwitch[sw1] {
		assert.Equal(t, intCookie, f.Cookie)
		assert.Equal(t, 20001, f.Priority)
		assert.Equal(t, TableGroupEVPL, f.TableGroup)
		assert.Contains(t, []uint8{2, 3}, f.TableID)
		assert.Equal(t, uint16(0x0800), f.Match.DlType)
		assert.Contains(t, []uint8{6, 17}, f.Match.NwProto)
	}

	source := bySwitch[sw1][:2]
	assert.Equal(t, []model.Action{{ActionType: model.ActionPushINT}}, source[0].ApplyActions())
	assert.Equal(t, uint8(3), *source[0].Instructions[1].TableID)
	assert.Equal(t, model.ActionAddINTMetadata, source[1].ApplyActions()[0].ActionType)
	port, _ := source[1].OutputPort()
	assert.Equal(t, uint32(2), port)

	sink := bySwitch[sw2][:3]
	port, _ = sink[0].OutputPort()
	assert.Equal(t, uint32(7), port)
	assert.Equal(t, uint32(8), sink[1].Match.InPort)
	assert.Equal(t, model.ActionSendReport, sink[1].ApplyActions()[0].ActionType)
	assert.Equal(t, model.ActionPopINT, sink[2].ApplyActions()[0].ActionType)
	port, _ = sink[2].OutputPort()
	assert.Equal(t, uint32(1), port)

	// The base rules are left untouched.
	assert.Equal(t, uint8(0), base[cookie.MustNew(evcID, cookie.PrefixMEF)][0].Flow.TableID)
	assert.Len(t, base[cookie.MustNew(evcID, cookie.PrefixMEF)][0].Flow.ApplyActions(), 2)
}

func TestBuildIntraSwitch(t *testing.T) {
	b := New(cookie.PrefixINT, cookie.PrefixMEF)
	base := model.StoredRules{}
	base.Add(model.RuleRecord{Switch: sw1, Flow: baseFlow(1, 3, 20000, nil)})

	flows := b.Build(circuit(sw1+":1", sw1+":3"), base).SwitchFlows()[sw1]
	if !assert.Len(t, flows, 8) {
		return
	}
	for _, f := range flows {
		assert.Equal(t, TableGroupEPL, f.TableGroup)
		assert.Contains(t, []uint8{3, 4}, f.TableID)
	}
	port, _ := flows[1].OutputPort()
	assert.Equal(t, uint32(7), port)
	assert.Equal(t, uint32(8), flows[2].Match.InPort)
}

func TestBuildSkipsCircuitsWithoutBaseRules(t *testing.T) {
	rules := New(cookie.PrefixINT, cookie.PrefixMEF).Build(circuit(sw1+":1", sw2+":1"), model.StoredRules{})
	assert.Empty(t, rules)
}

func TestUpdateTableGroups(t *testing.T) {
	b := New(cookie.PrefixINT, cookie.PrefixMEF)
	groups := b.UpdateTableGroups(map[string]uint8{TableGroupEPL: 5})
	assert.Equal(t, map[string]uint8{TableGroupEVPL: 2, TableGroupEPL: 5}, groups)

	groups[TableGroupEVPL] = 9
	assert.Equal(t, uint8(2), b.TableGroups()[TableGroupEVPL])

	base := model.StoredRules{}
	base.Add(model.RuleRecord{Switch: sw3, Flow: baseFlow(1, 2, 100, nil)})
	for _, f := range b.Build(circuit(sw1+":1", sw2+":1"), base).SwitchFlows()[sw3] {
		assert.Equal(t, uint8(5), f.TableID)
	}
}

func TestTableGroupOf(t *testing.T) {
	testCases := []struct {
		name  string
		flow  model.Flow
		group string
	}{
		{"explicit", model.Flow{TableGroup: "custom", Match: model.Match{DlVlan: vlan(1)}}, "custom"},
		{"vlan", model.Flow{Match: model.Match{DlVlan: vlan(1)}}, TableGroupEVPL},
		{"untagged", model.Flow{}, TableGroupEPL},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.group, TableGroupOf(tc.flow))
		})
	}
}
