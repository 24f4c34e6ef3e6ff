package flowbuilder

import (
	"maps"
	"sync"

	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/pkg/cookie"
)

const (
	TableGroupEVPL = "evpl"
	TableGroupEPL  = "epl"

	etherTypeIPv4 = 0x0800
	ipProtoTCP    = 6
	ipProtoUDP    = 17
)

// INT headers only fit TCP and UDP payloads.
var instrumentedProtos = []uint8{ipProtoTCP, ipProtoUDP}

func DefaultTableGroups() map[string]uint8 {
	return map[string]uint8{TableGroupEVPL: 2, TableGroupEPL: 3}
}

// TableGroupOf infers the group of a base rule: tagged UNIs belong to evpl.
func TableGroupOf(f model.Flow) string {
	if f.TableGroup != "" {
		return f.TableGroup
	}
	if f.Match.HasVlan() {
		return TableGroupEVPL
	}
	return TableGroupEPL
}

// Builder derives INT rules from the base rules of a circuit.
type Builder struct {
	intPrefix cookie.Prefix
	mefPrefix cookie.Prefix

	mu          *sync.RWMutex
	tableGroups map[string]uint8
}

func New(intPrefix, mefPrefix cookie.Prefix) *Builder {
	return &Builder{
		intPrefix:   intPrefix,
		mefPrefix:   mefPrefix,
		mu:          &sync.RWMutex{},
		tableGroups: DefaultTableGroups(),
	}
}

func (b *Builder) TableGroups() map[string]uint8 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.tableGroups)
}

// UpdateTableGroups merges groups into the mapping and returns the result.
func (b *Builder) UpdateTableGroups(groups map[string]uint8) map[string]uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	maps.Copy(b.tableGroups, groups)
	return maps.Clone(b.tableGroups)
}

// Build returns the INT rules keyed by INT cookie. Endpoints are expected to
// carry their resolved proxy ports; circuits without base rules produce none.
func (b *Builder) Build(circuits model.Circuits, base model.StoredRules) model.StoredRules {
	groups := b.TableGroups()

	out := make(model.StoredRules)
	for _, id := range circuits.IDs() {
		c := circuits[id]
		if c == nil {
			continue
		}
		records := base[cookie.MustNew(id, b.mefPrefix)]
		if len(records) == 0 {
			continue
		}

		intCookie := cookie.MustNew(id, b.intPrefix)
		for _, r := range records {
			for _, f := range b.buildRecord(c, r, intCookie, groups) {
				out.Add(model.RuleRecord{Switch: r.Switch, Flow: f})
			}
		}
	}
	return out
}

func (b *Builder) buildRecord(c *model.Circuit, r model.RuleRecord, intCookie uint64, groups map[string]uint8) []model.Flow {
	group := TableGroupOf(r.Flow)
	table := groups[group]
	next := table + 1

	source := uniAt(c, r.Switch, r.Flow.Match.InPort)
	var sink *model.Endpoint
	if port, ok := r.Flow.OutputPort(); ok {
		sink = uniAt(c, r.Switch, port)
	}
	if sink != nil && sink.ProxyPort == nil {
		sink = nil
	}

	var flows []model.Flow
	for _, proto := range instrumentedProtos {
		tmpl := r.Flow.Clone()
		tmpl.Cookie = intCookie
		tmpl.CookieMask = 0
		tmpl.Owner = "telemetry_int"
		tmpl.TableGroup = group
		tmpl.TableID = table
		tmpl.Priority = r.Flow.Priority + 1
		tmpl.Match.DlType = etherTypeIPv4
		tmpl.Match.NwProto = proto

		actions := r.Flow.ApplyActions()
		switch {
		case source != nil && sink == nil:
			flows = append(flows,
				withInstructions(tmpl, table, applyActions(model.Action{ActionType: model.ActionPushINT}), gotoTable(next)),
				withInstructions(tmpl, next, applyActions(prepend(model.Action{ActionType: model.ActionAddINTMetadata}, actions)...)),
			)
		case source != nil && sink != nil:
			flows = append(flows,
				withInstructions(tmpl, table, applyActions(model.Action{ActionType: model.ActionPushINT}), gotoTable(next)),
				withInstructions(tmpl, next, applyActions(
					model.Action{ActionType: model.ActionAddINTMetadata},
					model.Action{ActionType: model.ActionOutput, Port: sink.ProxyPort.SourcePort},
				)),
			)
			flows = append(flows, sinkLoop(tmpl, sink.ProxyPort, actions, table, next)...)
		case sink != nil:
			flows = append(flows, withInstructions(tmpl, table, applyActions(
				model.Action{ActionType: model.ActionAddINTMetadata},
				model.Action{ActionType: model.ActionOutput, Port: sink.ProxyPort.SourcePort},
			)))
			flows = append(flows, sinkLoop(tmpl, sink.ProxyPort, actions, table, next)...)
		default:
			flows = append(flows, withInstructions(tmpl, table,
				applyActions(prepend(model.Action{ActionType: model.ActionAddINTMetadata}, actions)...)))
		}
	}
	return flows
}

// sinkLoop matches traffic re-entering on the proxy destination: the report
// is sent first, then INT is popped before the original egress actions.
func sinkLoop(tmpl model.Flow, pp *model.ProxyPortRef, actions []model.Action, table, next uint8) []model.Flow {
	tmpl = tmpl.Clone()
	tmpl.Match.InPort = pp.DestinationPort
	return []model.Flow{
		withInstructions(tmpl, table, applyActions(model.Action{ActionType: model.ActionSendReport}), gotoTable(next)),
		withInstructions(tmpl, next, applyActions(prepend(model.Action{ActionType: model.ActionPopINT}, actions)...)),
	}
}

func uniAt(c *model.Circuit, switchID string, port uint32) *model.Endpoint {
	if port == 0 {
		return nil
	}
	for _, uni := range []*model.Endpoint{&c.UNIA, &c.UNIZ} {
		if uni.SwitchID() == switchID && uni.PortNumber() == port {
			return uni
		}
	}
	return nil
}

func withInstructions(tmpl model.Flow, table uint8, ins ...model.Instruction) model.Flow {
	f := tmpl.Clone()
	f.TableID = table
	f.Instructions = ins
	return f
}

func applyActions(actions ...model.Action) model.Instruction {
	return model.Instruction{InstructionType: model.InstructionApplyActions, Actions: actions}
}

func gotoTable(table uint8) model.Instruction {
	return model.Instruction{InstructionType: model.InstructionGotoTable, TableID: &table}
}

func prepend(a model.Action, actions []model.Action) []model.Action {
	return append([]model.Action{a}, actions...)
}
