package types

import "fmt"

// Kind identifies which AWS control plane a resource belongs to.
type Kind string

const (
	KindEC2 Kind = "ec2"
	KindRDS Kind = "rds"
	KindEKS Kind = "eks"
)

// Tier controls which operations a resource alias allows.
type Tier string

const (
	TierFullControl Tier = "full-control"
	TierMetricsOnly Tier = "metrics-only"
)

// ResourceAlias maps an operator-facing name to an AWS resource identifier.
// Built once at configuration load, immutable afterwards, uniquely keyed
// by (Kind, Alias).
type ResourceAlias struct {
	Alias      string `yaml:"alias"`
	Kind       Kind   `yaml:"-"`
	ResourceID string `yaml:"id"`
	Tier       Tier   `yaml:"-"`
}

// FullControl reports whether mutating commands are allowed on this alias.
func (r ResourceAlias) FullControl() bool {
	return r.Tier == TierFullControl
}

func (r ResourceAlias) String() string {
	return fmt.Sprintf("%s/%s (%s)", r.Kind, r.Alias, r.ResourceID)
}
