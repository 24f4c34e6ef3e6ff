package manager

import "github.com/zxhio/telemetry-int/internal/model"

const (
	CompareWrongMetadata = "wrong_metadata_has_int_flows"
	CompareMissingFlows  = "missing_some_int_flows"
)

// EVCCompare reports the circuits whose telemetry metadata disagrees with
// the stored rules. Circuits without findings are left out.
func (m *Manager) EVCCompare(intRules, baseRules model.StoredRules, circuits model.Circuits) map[string][]string {
	intByID := intRules.ByCircuit()
	baseByID := baseRules.ByCircuit()

	results := make(map[string][]string)
	for _, id := range circuits.IDs() {
		c := circuits[id]
		if c == nil {
			continue
		}
		intCount, baseCount := len(intByID[id]), len(baseByID[id])

		if !c.HasINTEnabled() && intCount > 0 {
			results[id] = append(results[id], CompareWrongMetadata)
		}
		if c.HasINTEnabled() && baseCount > 0 && intCount < baseCount {
			results[id] = append(results[id], CompareMissingFlows)
		}
	}
	return results
}
