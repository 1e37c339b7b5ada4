// Package router parses chat messages into command invocations and
// dispatches them against a static command table with per-command
// authorization. All parsing and authorization errors are resolved here and
// rendered as denial messages; a failing invocation never affects others.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"opsbot/cache"
	awsprovider "opsbot/providers/aws"
	"opsbot/registry"
	"opsbot/sched"
	"opsbot/telemetry"
	"opsbot/types"
)

// Prefix marks chat messages as commands.
const Prefix = "!"

// Control is the AWS control adapter surface the router drives.
type Control interface {
	Describe(ctx context.Context, kind types.Kind, resourceID string) (types.LifecycleState, error)
	Start(ctx context.Context, kind types.Kind, resourceID string) error
	Stop(ctx context.Context, kind types.Kind, resourceID string) error
}

// MetricsFetcher is the CloudWatch adapter surface.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, kind types.Kind, resourceID string, window time.Duration) (types.MetricsSnapshot, error)
}

// NodegroupAPI is the EKS adapter surface. Nil when no cluster is configured.
type NodegroupAPI interface {
	List(ctx context.Context) ([]awsprovider.NodegroupInfo, error)
	Describe(ctx context.Context, name string) (awsprovider.NodegroupInfo, error)
	Scale(ctx context.Context, name string, desired int32) error
}

// ScheduleAPI is the scheduler surface. Nil when scheduling is disabled.
type ScheduleAPI interface {
	Set(ctx context.Context, alias types.ResourceAlias, startAt, stopAt string) error
	Remove(ctx context.Context, alias string) error
	List(ctx context.Context) ([]sched.Schedule, error)
}

type handlerFunc func(ctx context.Context, inv types.CommandInvocation) (string, error)

type command struct {
	name    string
	usage   string
	summary string
	minArgs int
	run     handlerFunc
}

// Router resolves and executes chat commands.
type Router struct {
	registry   *registry.Registry
	control    Control
	metrics    MetricsFetcher
	cache      *cache.Cache
	nodegroups NodegroupAPI
	scheduler  ScheduleAPI
	logger     zerolog.Logger
	botMetrics *telemetry.BotMetrics

	stateTTL   time.Duration
	metricsTTL time.Duration

	// Post-mutation confirmation budget. sleep is injectable for tests.
	confirmAttempts int
	confirmInterval time.Duration
	sleep           func(ctx context.Context, d time.Duration) error

	table map[string]*command
	order []string
}

const (
	defaultConfirmAttempts = 10
	defaultConfirmInterval = 3 * time.Second
)

// Options carries the router's collaborators. Control, Registry and Cache
// are required; Nodegroups and Scheduler are optional features.
type Options struct {
	Registry   *registry.Registry
	Control    Control
	Metrics    MetricsFetcher
	Cache      *cache.Cache
	Nodegroups NodegroupAPI
	Scheduler  ScheduleAPI
	Logger     zerolog.Logger
	BotMetrics *telemetry.BotMetrics
	StateTTL   time.Duration
	MetricsTTL time.Duration
}

// New builds the router and registers the command table. Registration is
// checked at startup; a duplicate command name panics.
func New(opts Options) *Router {
	r := &Router{
		registry:   opts.Registry,
		control:    opts.Control,
		metrics:    opts.Metrics,
		cache:      opts.Cache,
		nodegroups: opts.Nodegroups,
		scheduler:  opts.Scheduler,
		logger:     opts.Logger.With().Str("component", "router").Logger(),
		botMetrics: opts.BotMetrics,
		stateTTL:   opts.StateTTL,
		metricsTTL: opts.MetricsTTL,
		table:      make(map[string]*command),
	}
	if r.stateTTL <= 0 {
		r.stateTTL = 30 * time.Second
	}
	if r.metricsTTL <= 0 {
		r.metricsTTL = 5 * time.Minute
	}
	r.confirmAttempts = defaultConfirmAttempts
	r.confirmInterval = defaultConfirmInterval
	r.sleep = sleepCtx
	r.registerAll()
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Router) register(c *command) {
	if _, dup := r.table[c.name]; dup {
		panic(fmt.Sprintf("duplicate command registration: %s", c.name))
	}
	r.table[c.name] = c
	r.order = append(r.order, c.name)
}

func (r *Router) registerAll() {
	r.register(&command{name: "help", usage: "!help", summary: "Show available commands", run: r.cmdHelp})
	r.register(&command{name: "ping", usage: "!ping", summary: "Check the bot is alive", run: r.cmdPing})
	r.register(&command{name: "list_servers", usage: "!list_servers", summary: "List all configured servers", run: r.cmdListServers})
	r.register(&command{name: "status", usage: "!status [alias]", summary: "EC2 status, all servers when no alias", run: r.cmdStatus})
	r.register(&command{name: "start", usage: "!start <alias>", summary: "Start an EC2 server", minArgs: 1, run: r.mutateEC2("start")})
	r.register(&command{name: "stop", usage: "!stop <alias>", summary: "Stop an EC2 server", minArgs: 1, run: r.mutateEC2("stop")})

	r.register(&command{name: "ec2-list", usage: "!ec2-list", summary: "List EC2 servers with state", run: r.listKind(types.KindEC2)})
	r.register(&command{name: "ec2-start", usage: "!ec2-start <alias>", summary: "Start an EC2 server", minArgs: 1, run: r.mutateEC2("start")})
	r.register(&command{name: "ec2-stop", usage: "!ec2-stop <alias>", summary: "Stop an EC2 server", minArgs: 1, run: r.mutateEC2("stop")})
	r.register(&command{name: "ec2-status", usage: "!ec2-status <alias>", summary: "EC2 server state", minArgs: 1, run: r.statusKind(types.KindEC2)})
	r.register(&command{name: "ec2-metrics", usage: "!ec2-metrics <alias>", summary: "EC2 CPU/network metrics", minArgs: 1, run: r.metricsKind(types.KindEC2)})

	r.register(&command{name: "rds-list", usage: "!rds-list", summary: "List RDS instances with state", run: r.listKind(types.KindRDS)})
	r.register(&command{name: "rds-start", usage: "!rds-start <alias>", summary: "Start an RDS instance (full control only)", minArgs: 1, run: r.mutateKind(types.KindRDS, "start")})
	r.register(&command{name: "rds-stop", usage: "!rds-stop <alias>", summary: "Stop an RDS instance (full control only)", minArgs: 1, run: r.mutateKind(types.KindRDS, "stop")})
	r.register(&command{name: "rds-status", usage: "!rds-status <alias>", summary: "RDS instance state", minArgs: 1, run: r.statusKind(types.KindRDS)})
	r.register(&command{name: "rds-metrics", usage: "!rds-metrics [alias]", summary: "RDS metrics, all instances when no alias", run: r.cmdRDSMetrics})

	if r.scheduler != nil {
		r.register(&command{name: "schedule", usage: "!schedule <alias> [HH:MM HH:MM]", summary: "Set daily start/stop times for an EC2 server", minArgs: 1, run: r.cmdSchedule})
		r.register(&command{name: "unschedule", usage: "!unschedule <alias>", summary: "Remove a server's schedule", minArgs: 1, run: r.cmdUnschedule})
		r.register(&command{name: "schedules", usage: "!schedules", summary: "List all schedules", run: r.cmdSchedules})
	}
	if r.nodegroups != nil {
		r.register(&command{name: "eks-list", usage: "!eks-list", summary: "List EKS nodegroups", run: r.cmdEKSList})
		r.register(&command{name: "eks-status", usage: "!eks-status <nodegroup>", summary: "Nodegroup status and sizing", minArgs: 1, run: r.cmdEKSStatus})
		r.register(&command{name: "eks-scale", usage: "!eks-scale <nodegroup> <count>", summary: "Set nodegroup desired size", minArgs: 2, run: r.cmdEKSScale})
	}
}

// HandleMessage parses one chat message. The second return is false when
// the message is not a command at all.
func (r *Router) HandleMessage(ctx context.Context, content, requesterID, channelID string) (string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, Prefix) {
		return "", false
	}
	fields := strings.Fields(content[len(Prefix):])
	if len(fields) == 0 {
		return "", false
	}

	inv := types.CommandInvocation{
		Command:     strings.ToLower(fields[0]),
		Args:        fields[1:],
		RequesterID: requesterID,
		ChannelID:   channelID,
	}
	return r.Dispatch(ctx, inv), true
}

// Dispatch executes one invocation and always returns rendered reply text.
func (r *Router) Dispatch(ctx context.Context, inv types.CommandInvocation) string {
	cmd, ok := r.table[inv.Command]
	if !ok {
		err := fmt.Errorf("%w: %q", types.ErrUnknownCommand, inv.Command)
		return r.finish(ctx, inv, "", err)
	}
	if len(inv.Args) < cmd.minArgs {
		err := fmt.Errorf("%w: usage: %s", types.ErrMissingArgument, cmd.usage)
		return r.finish(ctx, inv, "", err)
	}

	reply, err := cmd.run(ctx, inv)
	return r.finish(ctx, inv, reply, err)
}

// finish logs the invocation with its outcome and renders the reply.
func (r *Router) finish(ctx context.Context, inv types.CommandInvocation, reply string, err error) string {
	outcome := outcomeOf(err)
	event := r.logger.Info()
	if err != nil {
		event = r.logger.Warn().Err(err)
	}
	event.
		Str("command", inv.Command).
		Str("requester", inv.RequesterID).
		Str("alias", inv.Arg(0)).
		Str("outcome", outcome).
		Msg("command handled")
	r.botMetrics.RecordInvocation(ctx, inv.Command, outcome)

	if err != nil {
		return renderError(inv, err)
	}
	return reply
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, types.ErrMissingArgument):
		return "missing_argument"
	case errors.Is(err, types.ErrForbidden):
		return "forbidden"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, types.ErrTimeout):
		return "timeout"
	case errors.Is(err, types.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, types.ErrNoDataPoints):
		return "no_data"
	case errors.Is(err, types.ErrConfig):
		return "invalid_input"
	default:
		return "error"
	}
}

// renderError turns taxonomy errors into operator-facing text. Transport
// details stay in the logs.
func renderError(inv types.CommandInvocation, err error) string {
	switch {
	case errors.Is(err, types.ErrUnknownCommand):
		return fmt.Sprintf("❓ Unknown command `%s%s`. Try `%shelp`.", Prefix, inv.Command, Prefix)
	case errors.Is(err, types.ErrMissingArgument):
		return fmt.Sprintf("✋ Missing argument. %s", err.Error())
	case errors.Is(err, types.ErrForbidden):
		return fmt.Sprintf("⛔ Not allowed: %s", trimSentinel(err, types.ErrForbidden))
	case errors.Is(err, types.ErrNotFound):
		return fmt.Sprintf("❓ %s. Use `%slist_servers` to see what's configured.", trimSentinel(err, types.ErrNotFound), Prefix)
	case errors.Is(err, types.ErrUnauthorized):
		return fmt.Sprintf("⛔ AWS denied the call: %s. Check the bot's IAM policy.", trimSentinel(err, types.ErrUnauthorized))
	case errors.Is(err, types.ErrTimeout):
		return "⏱️ AWS did not answer in time. Try again in a moment."
	case errors.Is(err, types.ErrUnavailable):
		return "🙅 AWS is throttling us and retries ran out. Try again shortly."
	case errors.Is(err, types.ErrConfig):
		return fmt.Sprintf("✋ %s", trimSentinel(err, types.ErrConfig))
	default:
		return fmt.Sprintf("⚠️ Something went wrong: %v", err)
	}
}

// trimSentinel strips the leading "sentinel: " prefix for display.
func trimSentinel(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return msg[len(prefix):]
	}
	return msg
}
