package model

// FailoverCircuit is a circuit carried by a path change event together with
// the base rule fragments of the hops that changed, keyed by switch.
type FailoverCircuit struct {
	Circuit
	Flows        map[string][]Flow `json:"flows,omitempty"`
	RemovedFlows map[string][]Flow `json:"removed_flows,omitempty"`
}

// FlowError is a rule rejected by a switch.
type FlowError struct {
	Flow           Flow   `json:"flow"`
	ErrorException string `json:"error_exception,omitempty"`
	ErrorCommand   string `json:"error_command,omitempty"`
	ErrorType      int    `json:"error_type,omitempty"`
	ErrorCode      int    `json:"error_code,omitempty"`
}

const FlowCommandAdd = "add"
