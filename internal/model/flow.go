package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/zxhio/telemetry-int/pkg/cookie"
)

// TableAll addresses every table, used for cookie-only deletion.
const TableAll uint8 = 0xff

// Match is the match of a flow. Fields without a typed counterpart are kept
// in Extra so that a rule read from the flow store is written back unchanged.
type Match struct {
	InPort uint32
	DlVlan *int
	// DlVlanMask is set when dl_vlan is given as "value/mask".
	DlVlanMask *int
	DlType     uint16
	NwProto    uint8
	Extra      map[string]json.RawMessage
}

func (m Match) HasVlan() bool { return m.DlVlan != nil }

func (m Match) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	if m.InPort != 0 {
		known["in_port"] = m.InPort
	}
	if m.DlVlan != nil {
		if m.DlVlanMask != nil {
			known["dl_vlan"] = fmt.Sprintf("%d/%d", *m.DlVlan, *m.DlVlanMask)
		} else {
			known["dl_vlan"] = *m.DlVlan
		}
	}
	if m.DlType != 0 {
		known["dl_type"] = m.DlType
	}
	if m.NwProto != 0 {
		known["nw_proto"] = m.NwProto
	}
	return joinFields(m.Extra, known)
}

func (m *Match) UnmarshalJSON(data []byte) error {
	var vlan json.RawMessage
	extra, err := splitFields(data, map[string]any{
		"in_port":  &m.InPort,
		"dl_vlan":  &vlan,
		"dl_type":  &m.DlType,
		"nw_proto": &m.NwProto,
	})
	if err != nil {
		return err
	}
	m.Extra = extra
	m.DlVlan, m.DlVlanMask, err = parseVlan(vlan)
	return err
}

// parseVlan accepts dl_vlan as a number or as a "value[/mask]" string.
func parseVlan(raw json.RawMessage) (*int, *int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, nil, errors.Wrapf(err, "invalid dl_vlan %s", raw)
		}
		return &v, nil, nil
	}

	value, mask, masked := strings.Cut(s, "/")
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid dl_vlan %q", s)
	}
	if !masked {
		return &v, nil, nil
	}
	mk, err := strconv.Atoi(strings.TrimSpace(mask))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid dl_vlan mask %q", s)
	}
	return &v, &mk, nil
}

// Action is one action of an instruction. Fields of action types not modeled
// here, such as queue_id of set_queue, are kept in Extra.
type Action struct {
	ActionType string
	Port       uint32
	VlanID     int
	TagType    string
	Extra      map[string]json.RawMessage
}

func (a Action) MarshalJSON() ([]byte, error) {
	known := map[string]any{"action_type": a.ActionType}
	if a.Port != 0 {
		known["port"] = a.Port
	}
	if a.VlanID != 0 {
		known["vlan_id"] = a.VlanID
	}
	if a.TagType != "" {
		known["tag_type"] = a.TagType
	}
	return joinFields(a.Extra, known)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	extra, err := splitFields(data, map[string]any{
		"action_type": &a.ActionType,
		"port":        &a.Port,
		"vlan_id":     &a.VlanID,
		"tag_type":    &a.TagType,
	})
	if err != nil {
		return err
	}
	a.Extra = extra
	return nil
}

func (a Action) clone() Action {
	a.Extra = maps.Clone(a.Extra)
	return a
}

// splitFields decodes the known keys of a JSON object into their targets and
// returns the remaining keys untouched.
func splitFields(data []byte, known map[string]any) (map[string]json.RawMessage, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for key, dst := range known {
		v, ok := raw[key]
		if !ok {
			continue
		}
		delete(raw, key)
		if err := json.Unmarshal(v, dst); err != nil {
			return nil, errors.Wrapf(err, "invalid %s", key)
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func joinFields(extra map[string]json.RawMessage, known map[string]any) ([]byte, error) {
	out := make(map[string]any, len(extra)+len(known))
	for k, v := range extra {
		out[k] = v
	}
	maps.Copy(out, known)
	return json.Marshal(out)
}

const (
	ActionOutput         = "output"
	ActionSetVlan        = "set_vlan"
	ActionPushVlan       = "push_vlan"
	ActionPopVlan        = "pop_vlan"
	ActionPushINT        = "push_int"
	ActionAddINTMetadata = "add_int_metadata"
	ActionSendReport     = "send_report"
	ActionPopINT         = "pop_int"
)

type Instruction struct {
	InstructionType string   `json:"instruction_type"`
	Actions         []Action `json:"actions,omitempty"`
	TableID         *uint8   `json:"table_id,omitempty"`
}

const (
	InstructionApplyActions = "apply_actions"
	InstructionGotoTable    = "goto_table"
)

type Flow struct {
	Owner        string        `json:"owner,omitempty"`
	Cookie       uint64        `json:"cookie"`
	CookieMask   uint64        `json:"cookie_mask,omitempty"`
	TableID      uint8         `json:"table_id"`
	TableGroup   string        `json:"table_group,omitempty"`
	Priority     int           `json:"priority,omitempty"`
	Match        Match         `json:"match"`
	Instructions []Instruction `json:"instructions,omitempty"`
}

// ApplyActions returns the actions of the first apply_actions instruction.
func (f Flow) ApplyActions() []Action {
	for _, ins := range f.Instructions {
		if ins.InstructionType == InstructionApplyActions {
			return ins.Actions
		}
	}
	return nil
}

// OutputPort returns the port of the last output action.
func (f Flow) OutputPort() (uint32, bool) {
	actions := f.ApplyActions()
	for i := len(actions) - 1; i >= 0; i-- {
		if actions[i].ActionType == ActionOutput {
			return actions[i].Port, true
		}
	}
	return 0, false
}

// Clone deep-copies the flow.
func (f Flow) Clone() Flow {
	if f.Match.DlVlan != nil {
		v := *f.Match.DlVlan
		f.Match.DlVlan = &v
	}
	if f.Match.DlVlanMask != nil {
		v := *f.Match.DlVlanMask
		f.Match.DlVlanMask = &v
	}
	f.Match.Extra = maps.Clone(f.Match.Extra)
	ins := make([]Instruction, 0, len(f.Instructions))
	for _, in := range f.Instructions {
		var actions []Action
		for _, a := range in.Actions {
			actions = append(actions, a.clone())
		}
		in.Actions = actions
		if in.TableID != nil {
			t := *in.TableID
			in.TableID = &t
		}
		ins = append(ins, in)
	}
	if len(ins) == 0 {
		ins = nil
	}
	f.Instructions = ins
	return f
}

// RuleRecord is a stored forwarding rule as reported by the flow store.
type RuleRecord struct {
	Switch string `json:"switch"`
	Flow   Flow   `json:"flow"`
}

// StoredRules groups rule records by cookie.
type StoredRules map[uint64][]RuleRecord

func (s StoredRules) Add(r RuleRecord) {
	s[r.Flow.Cookie] = append(s[r.Flow.Cookie], r)
}

// NonEmpty drops cookies without records.
func (s StoredRules) NonEmpty() StoredRules {
	out := make(StoredRules, len(s))
	for c, records := range s {
		if len(records) > 0 {
			out[c] = records
		}
	}
	return out
}

// ByCircuit rekeys the records by the circuit id decoded from each cookie.
func (s StoredRules) ByCircuit() map[string][]RuleRecord {
	out := make(map[string][]RuleRecord, len(s))
	for c, records := range s {
		id := cookie.ID(c)
		out[id] = append(out[id], records...)
	}
	return out
}

// SwitchFlows groups the flows by switch.
func (s StoredRules) SwitchFlows() map[string][]Flow {
	out := make(map[string][]Flow)
	for _, c := range s.Cookies() {
		for _, r := range s[c] {
			out[r.Switch] = append(out[r.Switch], r.Flow)
		}
	}
	return out
}

// Cookies returns the cookies in ascending order.
func (s StoredRules) Cookies() []uint64 {
	cookies := make([]uint64, 0, len(s))
	for c := range s {
		cookies = append(cookies, c)
	}
	sort.Slice(cookies, func(i, j int) bool { return cookies[i] < cookies[j] })
	return cookies
}
