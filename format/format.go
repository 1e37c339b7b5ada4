// Package format renders canonical states and metric snapshots as chat
// text. Rendering is deterministic and never fails; unrepresentable input
// falls back to the warning icon with the literal state name.
package format

import (
	"fmt"
	"strings"

	"opsbot/types"
)

// Status iconography. One icon per canonical state.
var stateIcons = map[types.LifecycleState]string{
	types.StateRunning:    "🟢",
	types.StateStopped:    "🔴",
	types.StateStarting:   "🟡",
	types.StateStopping:   "🟠",
	types.StateTerminated: "⚫",
	types.StateUnknown:    "⚠️",
	types.StateError:      "⚠️",
}

const fallbackIcon = "⚠️"

// StateIcon returns the icon for a state, warning icon for anything else.
func StateIcon(state types.LifecycleState) string {
	if icon, ok := stateIcons[state]; ok {
		return icon
	}
	return fallbackIcon
}

// Status renders one resource's lifecycle state.
func Status(alias string, state types.LifecycleState) string {
	return fmt.Sprintf("%s `%s` is %s", StateIcon(state), alias, state)
}

// List renders aliases with their states in the given order, one per line,
// with the control tier labelled.
func List(aliases []types.ResourceAlias, states map[string]types.LifecycleState) string {
	if len(aliases) == 0 {
		return "No servers configured."
	}
	var b strings.Builder
	for _, a := range aliases {
		state, ok := states[a.Alias]
		if !ok {
			state = types.StateUnknown
		}
		fmt.Fprintf(&b, "%s `%s` (%s, %s) is %s\n", StateIcon(state), a.Alias, a.Kind, tierLabel(a.Tier), state)
	}
	return strings.TrimRight(b.String(), "\n")
}

func tierLabel(tier types.Tier) string {
	if tier == types.TierFullControl {
		return "full control"
	}
	return "metrics only"
}

// Metrics renders a snapshot as aligned key/value lines.
func Metrics(alias string, snap types.MetricsSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Metrics for `%s`\n", alias)
	fmt.Fprintf(&b, "CPU: %s\n", percentOrUnavailable(snap.CPUPercent))
	fmt.Fprintf(&b, "Memory: %s\n", percentOrUnavailable(snap.MemUsedPercent))
	for _, stat := range snap.Extra {
		fmt.Fprintf(&b, "%s: %s\n", stat.Name, stat.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func percentOrUnavailable(v *float64) string {
	if v == nil {
		return "unavailable"
	}
	return fmt.Sprintf("%.1f%%", *v)
}

// NoData renders the valid-empty metrics result.
func NoData(alias string) string {
	return fmt.Sprintf("📊 `%s`: no recent data", alias)
}

// StillPending reports a mutation that has not settled within the
// confirmation window.
func StillPending(alias string, state types.LifecycleState) string {
	return fmt.Sprintf("⏳ `%s` is still %s, check again in a minute.", alias, state)
}

// Ack confirms a mutating command was accepted.
func Ack(op, alias string) string {
	switch op {
	case "start":
		return fmt.Sprintf("🟡 Starting `%s`...", alias)
	case "stop":
		return fmt.Sprintf("🟠 Stopping `%s`...", alias)
	default:
		return fmt.Sprintf("✅ %s `%s` accepted", op, alias)
	}
}
