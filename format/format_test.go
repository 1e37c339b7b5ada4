package format

import (
	"strings"
	"testing"

	"opsbot/types"
)

func TestStateIcon(t *testing.T) {
	tests := []struct {
		state types.LifecycleState
		want  string
	}{
		{types.StateRunning, "🟢"},
		{types.StateStopped, "🔴"},
		{types.StateStarting, "🟡"},
		{types.StateStopping, "🟠"},
		{types.StateTerminated, "⚫"},
		{types.StateUnknown, "⚠️"},
		{types.StateError, "⚠️"},
		{types.LifecycleState("rebooting"), "⚠️"}, // unmapped falls back
	}
	for _, tt := range tests {
		if got := StateIcon(tt.state); got != tt.want {
			t.Errorf("StateIcon(%s) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestStatusIsDeterministic(t *testing.T) {
	want := "🔴 `prod-server` is stopped"
	for i := 0; i < 3; i++ {
		if got := Status("prod-server", types.StateStopped); got != want {
			t.Fatalf("Status() = %q, want %q", got, want)
		}
	}
}

func TestList(t *testing.T) {
	aliases := []types.ResourceAlias{
		{Alias: "prod-server", Kind: types.KindEC2, Tier: types.TierFullControl},
		{Alias: "legacy", Kind: types.KindEC2, Tier: types.TierMetricsOnly},
	}
	states := map[string]types.LifecycleState{
		"prod-server": types.StateRunning,
		// legacy intentionally missing: rendered as unknown
	}

	got := List(aliases, states)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("List() lines = %d, want 2\n%s", len(lines), got)
	}
	if lines[0] != "🟢 `prod-server` (ec2, full control) is running" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "⚠️ `legacy` (ec2, metrics only) is unknown" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestListEmpty(t *testing.T) {
	if got := List(nil, nil); got != "No servers configured." {
		t.Errorf("List(nil) = %q", got)
	}
}

func TestMetrics(t *testing.T) {
	cpu := 41.55
	snap := types.MetricsSnapshot{
		CPUPercent:     &cpu,
		MemUsedPercent: nil, // no agent: must render unavailable, never 0%
		Extra:          []types.Stat{{Name: "NetworkIn", Value: "2.00 MB"}},
	}

	got := Metrics("prod-server", snap)
	want := "📊 Metrics for `prod-server`\nCPU: 41.5%\nMemory: unavailable\nNetworkIn: 2.00 MB"
	if got != want {
		t.Errorf("Metrics() = %q, want %q", got, want)
	}
}

func TestNoData(t *testing.T) {
	if got := NoData("prod-db"); got != "📊 `prod-db`: no recent data" {
		t.Errorf("NoData() = %q", got)
	}
}

func TestStillPending(t *testing.T) {
	got := StillPending("web", types.StateStarting)
	if got != "⏳ `web` is still starting, check again in a minute." {
		t.Errorf("StillPending() = %q", got)
	}
}

func TestAck(t *testing.T) {
	if got := Ack("start", "web"); got != "🟡 Starting `web`..." {
		t.Errorf("Ack(start) = %q", got)
	}
	if got := Ack("stop", "web"); got != "🟠 Stopping `web`..." {
		t.Errorf("Ack(stop) = %q", got)
	}
}
