package aws

import "opsbot/types"

// EC2 and RDS report lifecycle with different vocabularies. Both are folded
// onto the canonical LifecycleState; anything unmapped becomes Unknown.

var ec2States = map[string]types.LifecycleState{
	"pending":       types.StateStarting,
	"running":       types.StateRunning,
	"stopping":      types.StateStopping,
	"stopped":       types.StateStopped,
	"shutting-down": types.StateStopping,
	"terminated":    types.StateTerminated,
}

var rdsStates = map[string]types.LifecycleState{
	"available": types.StateRunning,
	"starting":  types.StateStarting,
	"stopping":  types.StateStopping,
	"stopped":   types.StateStopped,
	"deleting":  types.StateStopping,
	"deleted":   types.StateTerminated,
}

// NormalizeState maps a provider state string onto the canonical enum.
func NormalizeState(kind types.Kind, raw string) types.LifecycleState {
	var table map[string]types.LifecycleState
	switch kind {
	case types.KindEC2:
		table = ec2States
	case types.KindRDS:
		table = rdsStates
	default:
		return types.StateUnknown
	}
	if state, ok := table[raw]; ok {
		return state
	}
	return types.StateUnknown
}
