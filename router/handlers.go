package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"opsbot/cache"
	"opsbot/format"
	"opsbot/providers/aws"
	"opsbot/types"
)

// stateOf fetches a resource's canonical state through the cache.
func (r *Router) stateOf(ctx context.Context, a types.ResourceAlias) (types.LifecycleState, error) {
	key := cache.Key{Kind: a.Kind, ResourceID: a.ResourceID, Query: cache.QueryState}
	v, err := r.cache.Do(ctx, key, r.stateTTL, func(ctx context.Context) (any, error) {
		return r.control.Describe(ctx, a.Kind, a.ResourceID)
	})
	if err != nil {
		return types.StateError, err
	}
	state, ok := v.(types.LifecycleState)
	if !ok {
		return types.StateUnknown, nil
	}
	return state, nil
}

// metricsOf fetches a resource's metrics snapshot through the cache.
func (r *Router) metricsOf(ctx context.Context, a types.ResourceAlias) (types.MetricsSnapshot, error) {
	key := cache.Key{Kind: a.Kind, ResourceID: a.ResourceID, Query: cache.QueryMetrics}
	v, err := r.cache.Do(ctx, key, r.metricsTTL, func(ctx context.Context) (any, error) {
		return r.metrics.FetchMetrics(ctx, a.Kind, a.ResourceID, aws.DefaultMetricsWindow)
	})
	if err != nil {
		return types.MetricsSnapshot{}, err
	}
	snap, _ := v.(types.MetricsSnapshot)
	return snap, nil
}

func (r *Router) cmdHelp(_ context.Context, _ types.CommandInvocation) (string, error) {
	var b strings.Builder
	b.WriteString("**Commands**\n")
	for _, name := range r.order {
		cmd := r.table[name]
		fmt.Fprintf(&b, "`%s` — %s\n", cmd.usage, cmd.summary)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) cmdPing(_ context.Context, _ types.CommandInvocation) (string, error) {
	return "🏓 pong", nil
}

func (r *Router) cmdListServers(ctx context.Context, inv types.CommandInvocation) (string, error) {
	ec2Part, err := r.listKind(types.KindEC2)(ctx, inv)
	if err != nil {
		return "", err
	}
	rdsPart, err := r.listKind(types.KindRDS)(ctx, inv)
	if err != nil {
		return "", err
	}
	return "**EC2**\n" + ec2Part + "\n**RDS**\n" + rdsPart, nil
}

// cmdStatus keeps the original bare-command behavior: EC2 scope, all
// servers when no alias is given.
func (r *Router) cmdStatus(ctx context.Context, inv types.CommandInvocation) (string, error) {
	if len(inv.Args) == 0 {
		return r.listKind(types.KindEC2)(ctx, inv)
	}
	return r.statusKind(types.KindEC2)(ctx, inv)
}

func (r *Router) listKind(kind types.Kind) handlerFunc {
	return func(ctx context.Context, _ types.CommandInvocation) (string, error) {
		aliases := r.registry.List(kind)
		states := make(map[string]types.LifecycleState, len(aliases))
		for _, a := range aliases {
			state, err := r.stateOf(ctx, a)
			if err != nil {
				// One resource failing must not sink the listing.
				r.logger.Warn().Err(err).Str("alias", a.Alias).Msg("state lookup failed during list")
				state = types.StateUnknown
			}
			states[a.Alias] = state
		}
		return format.List(aliases, states), nil
	}
}

func (r *Router) statusKind(kind types.Kind) handlerFunc {
	return func(ctx context.Context, inv types.CommandInvocation) (string, error) {
		a, err := r.registry.Resolve(kind, inv.Arg(0))
		if err != nil {
			return "", err
		}
		state, err := r.stateOf(ctx, a)
		if err != nil {
			return "", err
		}
		return format.Status(a.Alias, state), nil
	}
}

func (r *Router) mutateEC2(op string) handlerFunc {
	return r.mutateKind(types.KindEC2, op)
}

// mutateKind starts or stops a resource. Authorization is checked against
// the alias tier before any AWS call; the cache entry for the resource is
// invalidated only after the mutation succeeds. The reply carries the
// confirmed state when the resource settles within the confirmation budget.
func (r *Router) mutateKind(kind types.Kind, op string) handlerFunc {
	return func(ctx context.Context, inv types.CommandInvocation) (string, error) {
		a, err := r.registry.Resolve(kind, inv.Arg(0))
		if err != nil {
			return "", err
		}
		if !a.FullControl() {
			return "", fmt.Errorf("%w: `%s` is metrics-only, %s is not permitted", types.ErrForbidden, a.Alias, op)
		}

		if op == "start" {
			err = r.control.Start(ctx, a.Kind, a.ResourceID)
		} else {
			err = r.control.Stop(ctx, a.Kind, a.ResourceID)
		}
		if err != nil {
			return "", err
		}

		r.cache.InvalidateResource(a.Kind, a.ResourceID)

		target := types.StateRunning
		if op == "stop" {
			target = types.StateStopped
		}
		ack := format.Ack(op, a.Alias)
		state, settled := r.confirmState(ctx, a, target)
		if !settled {
			return ack + "\n" + format.StillPending(a.Alias, state), nil
		}
		return ack + "\n" + format.Status(a.Alias, state), nil
	}
}

// confirmState polls the describe path until the resource reaches want,
// bounded by the confirmation budget. The cached state is dropped before
// each poll so every attempt observes live state; the last poll's result
// stays cached for subsequent status commands.
func (r *Router) confirmState(ctx context.Context, a types.ResourceAlias, want types.LifecycleState) (types.LifecycleState, bool) {
	last := types.StateUnknown
	for attempt := 0; attempt < r.confirmAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.confirmInterval); err != nil {
				return last, false
			}
			r.cache.Invalidate(cache.Key{Kind: a.Kind, ResourceID: a.ResourceID, Query: cache.QueryState})
		}
		state, err := r.stateOf(ctx, a)
		if err != nil {
			r.logger.Warn().Err(err).Str("alias", a.Alias).Msg("state poll failed during confirmation")
			return last, false
		}
		last = state
		if state == want {
			return state, true
		}
	}
	return last, false
}

func (r *Router) metricsKind(kind types.Kind) handlerFunc {
	return func(ctx context.Context, inv types.CommandInvocation) (string, error) {
		a, err := r.registry.Resolve(kind, inv.Arg(0))
		if err != nil {
			return "", err
		}
		return r.renderMetrics(ctx, a)
	}
}

// cmdRDSMetrics renders one instance's metrics when an alias is given, all
// configured RDS instances in declaration order otherwise.
func (r *Router) cmdRDSMetrics(ctx context.Context, inv types.CommandInvocation) (string, error) {
	if len(inv.Args) > 0 {
		return r.metricsKind(types.KindRDS)(ctx, inv)
	}

	aliases := r.registry.List(types.KindRDS)
	if len(aliases) == 0 {
		return "No RDS instances configured.", nil
	}
	parts := make([]string, 0, len(aliases))
	for _, a := range aliases {
		part, err := r.renderMetrics(ctx, a)
		if err != nil {
			r.logger.Warn().Err(err).Str("alias", a.Alias).Msg("metrics lookup failed during fan-out")
			part = fmt.Sprintf("⚠️ `%s`: metrics unavailable", a.Alias)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "\n\n"), nil
}

func (r *Router) renderMetrics(ctx context.Context, a types.ResourceAlias) (string, error) {
	snap, err := r.metricsOf(ctx, a)
	if err != nil {
		if errors.Is(err, types.ErrNoDataPoints) {
			return format.NoData(a.Alias), nil
		}
		return "", err
	}
	return format.Metrics(a.Alias, snap), nil
}

func (r *Router) cmdSchedule(ctx context.Context, inv types.CommandInvocation) (string, error) {
	a, err := r.registry.Resolve(types.KindEC2, inv.Arg(0))
	if err != nil {
		return "", err
	}
	if !a.FullControl() {
		return "", fmt.Errorf("%w: `%s` is metrics-only, scheduling is not permitted", types.ErrForbidden, a.Alias)
	}
	if err := r.scheduler.Set(ctx, a, inv.Arg(1), inv.Arg(2)); err != nil {
		return "", err
	}
	return fmt.Sprintf("⏰ Schedule set for `%s`", a.Alias), nil
}

func (r *Router) cmdUnschedule(ctx context.Context, inv types.CommandInvocation) (string, error) {
	if err := r.scheduler.Remove(ctx, inv.Arg(0)); err != nil {
		return "", err
	}
	return fmt.Sprintf("⏰ Schedule removed for `%s`", inv.Arg(0)), nil
}

func (r *Router) cmdSchedules(ctx context.Context, _ types.CommandInvocation) (string, error) {
	schedules, err := r.scheduler.List(ctx)
	if err != nil {
		return "", err
	}
	if len(schedules) == 0 {
		return "No schedules set.", nil
	}
	var b strings.Builder
	for _, s := range schedules {
		fmt.Fprintf(&b, "⏰ `%s` start %s, stop %s (until %s)\n",
			s.Alias, s.StartAt, s.StopAt, s.ExpiresAt.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) cmdEKSList(ctx context.Context, _ types.CommandInvocation) (string, error) {
	infos, err := r.nodegroups.List(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "No nodegroups found.", nil
	}
	var b strings.Builder
	for _, ng := range infos {
		fmt.Fprintf(&b, "☸️ `%s` %s, %d nodes (min %d, max %d)\n",
			ng.Name, ng.Status, ng.DesiredSize, ng.MinSize, ng.MaxSize)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) cmdEKSStatus(ctx context.Context, inv types.CommandInvocation) (string, error) {
	ng, err := r.nodegroups.Describe(ctx, inv.Arg(0))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("☸️ `%s` is %s with %d/%d-%d nodes on %s",
		ng.Name, ng.Status, ng.DesiredSize, ng.MinSize, ng.MaxSize, ng.InstanceType), nil
}

func (r *Router) cmdEKSScale(ctx context.Context, inv types.CommandInvocation) (string, error) {
	desired, err := strconv.ParseInt(inv.Arg(1), 10, 32)
	if err != nil {
		return "", fmt.Errorf("%w: node count %q is not a number", types.ErrConfig, inv.Arg(1))
	}
	if err := r.nodegroups.Scale(ctx, inv.Arg(0), int32(desired)); err != nil {
		return "", err
	}
	return fmt.Sprintf("☸️ Scaling `%s` to %d nodes...", inv.Arg(0), desired), nil
}
