// Package gateway decouples chat message arrival from AWS-call latency.
// Messages land on a bounded queue and a pool of workers handles them, so
// the chat connection's receive loop never blocks on AWS I/O.
package gateway

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"opsbot/telemetry"
)

// Message is one inbound chat message.
type Message struct {
	Content   string
	AuthorID  string
	ChannelID string
}

// Handler processes a message and reports whether it was a command.
type Handler interface {
	HandleMessage(ctx context.Context, content, requesterID, channelID string) (string, bool)
}

// Replier delivers a reply to a channel.
type Replier interface {
	Reply(channelID, content string) error
}

// Gateway runs the bounded work queue and worker pool.
type Gateway struct {
	handler Handler
	replier Replier
	queue   chan Message
	workers int
	logger  zerolog.Logger
	metrics *telemetry.BotMetrics
}

// New creates a gateway with the given queue bound and worker count.
func New(handler Handler, replier Replier, workers, queueSize int, logger zerolog.Logger, metrics *telemetry.BotMetrics) *Gateway {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Gateway{
		handler: handler,
		replier: replier,
		queue:   make(chan Message, queueSize),
		workers: workers,
		logger:  logger.With().Str("component", "gateway").Logger(),
		metrics: metrics,
	}
}

// Enqueue offers a message to the pool without blocking. When the queue is
// full the message is dropped, the drop is logged, and the sender gets a
// busy notice.
func (g *Gateway) Enqueue(msg Message) bool {
	select {
	case g.queue <- msg:
		g.metrics.QueueEnter(context.Background())
		return true
	default:
		g.logger.Warn().
			Str("channel", msg.ChannelID).
			Str("author", msg.AuthorID).
			Msg("work queue full, dropping message")
		g.metrics.RecordDrop(context.Background())
		if err := g.replier.Reply(msg.ChannelID, "🤖 Too busy right now, try again in a moment."); err != nil {
			g.logger.Warn().Err(err).Msg("busy reply failed")
		}
		return false
	}
}

// Run consumes the queue with the worker pool until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	for i := 0; i < g.workers; i++ {
		grp.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-g.queue:
					g.metrics.QueueLeave(ctx)
					g.handle(ctx, msg)
				}
			}
		})
	}
	return grp.Wait()
}

// handle processes one message. A panic or failed reply is contained here;
// it never takes other invocations down. Reply failures are suppressed
// because the underlying AWS mutation may already have happened.
func (g *Gateway) handle(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().
				Interface("panic", r).
				Str("content", msg.Content).
				Msg("recovered from handler panic")
		}
	}()

	reply, handled := g.handler.HandleMessage(ctx, msg.Content, msg.AuthorID, msg.ChannelID)
	if !handled || reply == "" {
		return
	}
	if err := g.replier.Reply(msg.ChannelID, reply); err != nil {
		g.logger.Warn().Err(err).
			Str("channel", msg.ChannelID).
			Msg("reply delivery failed, suppressing")
	}
}
