package types

import "time"

// CommandInvocation is one inbound chat command. Transient per message,
// discarded after handling.
type CommandInvocation struct {
	Command     string
	Args        []string
	RequesterID string
	ChannelID   string
}

// Arg returns the i-th argument or "" when absent.
func (c CommandInvocation) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Stat is one extra metric line in display order.
type Stat struct {
	Name  string
	Value string
}

// MetricsSnapshot holds the latest CloudWatch statistics for a resource.
// Nil percentages mean the metric is unavailable (common for EC2 memory
// without an agent) and must be rendered as such, never as zero.
type MetricsSnapshot struct {
	CPUPercent     *float64
	MemUsedPercent *float64
	Extra          []Stat
	Timestamp      time.Time
}
