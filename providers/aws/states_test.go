package aws

import (
	"testing"

	"opsbot/types"
)

func TestNormalizeState(t *testing.T) {
	tests := []struct {
		kind types.Kind
		raw  string
		want types.LifecycleState
	}{
		{types.KindEC2, "pending", types.StateStarting},
		{types.KindEC2, "running", types.StateRunning},
		{types.KindEC2, "stopping", types.StateStopping},
		{types.KindEC2, "shutting-down", types.StateStopping},
		{types.KindEC2, "stopped", types.StateStopped},
		{types.KindEC2, "terminated", types.StateTerminated},
		{types.KindEC2, "rebooting", types.StateUnknown},
		{types.KindRDS, "available", types.StateRunning},
		{types.KindRDS, "starting", types.StateStarting},
		{types.KindRDS, "stopping", types.StateStopping},
		{types.KindRDS, "stopped", types.StateStopped},
		{types.KindRDS, "deleting", types.StateStopping},
		{types.KindRDS, "deleted", types.StateTerminated},
		{types.KindRDS, "backing-up", types.StateUnknown},
		{types.KindEKS, "running", types.StateUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.raw, func(t *testing.T) {
			if got := NormalizeState(tt.kind, tt.raw); got != tt.want {
				t.Errorf("NormalizeState(%s, %q) = %v, want %v", tt.kind, tt.raw, got, tt.want)
			}
		})
	}
}
