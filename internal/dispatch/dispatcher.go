// Package dispatch runs reply work off the request path: a bounded worker pool takes
// jobs, serializes them per conversation, generates replies and delivers them in chunks.
//
// A worker never waits for another worker's conversation. A job whose conversation is
// already running is parked behind it, and the worker running that conversation picks
// it up when the current turn ends.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/wechatbot/internal/channel"
	"github.com/memohai/wechatbot/internal/convlock"
	"github.com/memohai/wechatbot/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrGeneration wraps failures of the reply generator.
	ErrGeneration = errors.New("reply generation failed")
	// ErrDelivery wraps failures to hand a message to the platform.
	ErrDelivery = errors.New("reply delivery failed")
)

const (
	DefaultWorkers           = 8
	DefaultQueueSize         = 256
	DefaultChunkDelay        = 600 * time.Millisecond
	DefaultGenerationTimeout = 60 * time.Second
)

// Replier produces replies and owns conversation memory.
type Replier interface {
	Reply(ctx context.Context, conversationID, text string) (string, error)
	Clear(conversationID string)
}

// Config tunes a Dispatcher. Zero values take the defaults above.
type Config struct {
	Workers   int
	QueueSize int
	// ChunkDelay is the pause between chunks; negative means no pause.
	ChunkDelay        time.Duration
	GenerationTimeout time.Duration
	// MaxChunkRunes splits overly long lines; 0 disables splitting.
	MaxChunkRunes int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	} else if c.ChunkDelay == 0 {
		c.ChunkDelay = DefaultChunkDelay
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	return c
}

// JobKind is what a worker does with a job.
type JobKind string

const (
	JobReply  JobKind = "reply"
	JobFiller JobKind = "filler"
	JobClear  JobKind = "clear"
)

// Job is one unit of work for a conversation.
type Job struct {
	ID             string
	Kind           JobKind
	Channel        channel.ChannelType
	ConversationID string
	Text           string
	EnqueuedAt     time.Time
}

// InboundOptions carries per-channel classification policy.
type InboundOptions struct {
	// FillerOnMedia answers media and unsupported content with a random filler.
	FillerOnMedia bool
}

// Dispatcher owns the worker pool and the per-conversation lock registry.
type Dispatcher struct {
	logger  *slog.Logger
	replier Replier
	locks   *convlock.Registry
	senders *channel.Registry
	cfg     Config
	queue   chan Job

	sleep func(ctx context.Context, d time.Duration) error
	pick  func(n int) int

	mu sync.Mutex
	// active holds the conversations a worker is running, with the jobs parked behind them.
	active map[string][]Job
	// pending counts accepted jobs that have not started, in the queue or parked.
	pending int

	startOnce  sync.Once
	running    atomic.Bool
	cancel     context.CancelFunc
	cancelJobs context.CancelFunc
	jobCtx     context.Context
	wg         sync.WaitGroup
}

// Stats is a snapshot of the worker pool.
type Stats struct {
	Running  bool
	Workers  int
	Queued   int
	Capacity int
}

// New creates a Dispatcher. Call Start before submitting jobs.
func New(log *slog.Logger, replier Replier, locks *convlock.Registry, senders *channel.Registry, cfg Config) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if locks == nil {
		locks = convlock.NewRegistry()
	}
	if senders == nil {
		senders = channel.NewRegistry()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		logger:  log.With(slog.String("component", "dispatch")),
		replier: replier,
		locks:   locks,
		senders: senders,
		cfg:     cfg,
		queue:   make(chan Job, cfg.QueueSize),
		active:  make(map[string][]Job),
		sleep:   sleepContext,
		pick:    rand.IntN,
	}
}

// Start launches the workers. They stop taking jobs when ctx is cancelled or Shutdown
// is called. Jobs already running keep a context of their own until Shutdown gives up.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.jobCtx, d.cancelJobs = context.WithCancel(context.WithoutCancel(ctx))
		ctx, d.cancel = context.WithCancel(ctx)
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.runWorker(ctx)
		}
		d.running.Store(true)
		d.logger.Info("dispatcher started", slog.Int("workers", d.cfg.Workers), slog.Int("queue_size", d.cfg.QueueSize))
	})
}

// Shutdown stops the workers from taking jobs and lets running jobs finish. When ctx
// expires first, running jobs are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.running.Store(false)
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancelJobs()
		return nil
	case <-ctx.Done():
		d.cancelJobs()
		return ctx.Err()
	}
}

// Submit enqueues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	d.mu.Lock()
	if d.pending >= d.cfg.QueueSize {
		d.mu.Unlock()
		metrics.DispatchJobs.WithLabelValues(string(job.Kind), "dropped").Inc()
		return ErrQueueFull
	}
	d.pending++
	d.mu.Unlock()
	// pending never exceeds the channel capacity, so this does not block.
	d.queue <- job
	return nil
}

// Stats reports whether workers run and how many accepted jobs have not started.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	queued := d.pending
	d.mu.Unlock()
	return Stats{
		Running:  d.running.Load(),
		Workers:  d.cfg.Workers,
		Queued:   queued,
		Capacity: d.cfg.QueueSize,
	}
}

// HandleInbound classifies msg and submits the matching job. Messages that need no
// answer return nil without submitting anything. ctx only scopes logging: the job runs
// on the dispatcher's context so it outlives the callback request.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg channel.IncomingMessage, opts InboundOptions) error {
	job := Job{Channel: msg.Channel, ConversationID: msg.ConversationID}
	switch {
	case msg.Kind == channel.KindEvent:
		d.logger.DebugContext(ctx, "event ignored", slog.String("event", msg.Event), slog.String("conversation_id", msg.ConversationID))
		return nil
	case msg.Kind == channel.KindText:
		if !msg.Replyable() {
			return nil
		}
		text := strings.TrimSpace(msg.Text)
		if IsClearCommand(text) {
			job.Kind = JobClear
		} else {
			job.Kind = JobReply
			job.Text = text
		}
	default:
		if !opts.FillerOnMedia {
			d.logger.DebugContext(ctx, "message ignored", slog.String("kind", msg.Kind.String()), slog.String("conversation_id", msg.ConversationID))
			return nil
		}
		job.Kind = JobFiller
	}
	return d.Submit(job)
}

// Converse generates a reply under the conversation lock without sending it.
func (d *Dispatcher) Converse(ctx context.Context, conversationID, text string) (string, []string, error) {
	var reply string
	err := d.withLock(conversationID, func() error {
		var err error
		reply, err = d.generate(ctx, conversationID, text)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return reply, channel.SplitLines(reply), nil
}

// ClearHistory wipes conversationID's memory, waiting for any turn in progress.
func (d *Dispatcher) ClearHistory(conversationID string) {
	_ = d.withLock(conversationID, func() error {
		d.replier.Clear(conversationID)
		return nil
	})
}

func (d *Dispatcher) runWorker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			if d.claim(job) {
				d.runConversation(ctx, job)
			}
		}
	}
}

// claim marks job's conversation as running. When another worker already runs it,
// job is parked behind that conversation and claim returns false.
func (d *Dispatcher) claim(job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if parked, busy := d.active[job.ConversationID]; busy {
		d.active[job.ConversationID] = append(parked, job)
		return false
	}
	d.active[job.ConversationID] = nil
	d.pending--
	return true
}

// next pops the job parked behind conversationID, or releases the conversation.
func (d *Dispatcher) next(conversationID string) (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	parked := d.active[conversationID]
	if len(parked) == 0 {
		delete(d.active, conversationID)
		return Job{}, false
	}
	d.active[conversationID] = parked[1:]
	d.pending--
	return parked[0], true
}

// runConversation runs job and then every job parked behind it, in arrival order.
func (d *Dispatcher) runConversation(ctx context.Context, job Job) {
	for {
		d.runJob(d.jobCtx, job)
		if ctx.Err() != nil {
			return
		}
		var ok bool
		if job, ok = d.next(job.ConversationID); !ok {
			return
		}
	}
}

func (d *Dispatcher) runJob(ctx context.Context, job Job) {
	log := d.logger.With(
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("channel", job.Channel.String()),
		slog.String("conversation_id", job.ConversationID),
	)
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatchJobs.WithLabelValues(string(job.Kind), "panic").Inc()
			log.Error("job panicked", slog.Any("panic", r))
		}
	}()

	err := d.withLock(job.ConversationID, func() error {
		switch job.Kind {
		case JobReply:
			return d.reply(ctx, job)
		case JobFiller:
			return d.send(ctx, job.Channel, job.ConversationID, FillerReplies[d.pick(len(FillerReplies))])
		case JobClear:
			d.replier.Clear(job.ConversationID)
			return d.send(ctx, job.Channel, job.ConversationID, ClearedText)
		default:
			return fmt.Errorf("unknown job kind %q", job.Kind)
		}
	})
	metrics.DispatchJobs.WithLabelValues(string(job.Kind), metrics.Result(err)).Inc()
	if err != nil {
		log.Warn("job failed", slog.Any("error", err))
		return
	}
	log.Info("job done", slog.Duration("since_enqueue", time.Since(job.EnqueuedAt)))
}

func (d *Dispatcher) reply(ctx context.Context, job Job) error {
	reply, err := d.generate(ctx, job.ConversationID, job.Text)
	if err != nil {
		if sendErr := d.send(ctx, job.Channel, job.ConversationID, ApologyText); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return err
	}
	lines := channel.LimitLines(channel.SplitLines(reply), d.cfg.MaxChunkRunes)
	if len(lines) == 0 {
		return nil
	}
	return d.deliver(ctx, job.Channel, job.ConversationID, lines)
}

// deliver sends lines in order with a pause between them. When a line fails, the
// remaining lines are joined and sent once more, and delivery stops there.
func (d *Dispatcher) deliver(ctx context.Context, ch channel.ChannelType, to string, lines []string) error {
	for i, line := range lines {
		if i > 0 {
			if err := d.sleep(ctx, d.cfg.ChunkDelay); err != nil {
				return fmt.Errorf("%w: %w", ErrDelivery, err)
			}
		}
		err := d.send(ctx, ch, to, line)
		if err == nil {
			continue
		}
		d.logger.Warn("chunk send failed, sending remainder at once",
			slog.String("conversation_id", to),
			slog.Int("chunk", i),
			slog.Int("remaining", len(lines)-i),
			slog.Any("error", err),
		)
		return d.send(ctx, ch, to, strings.Join(lines[i:], "\n"))
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, ch channel.ChannelType, to, content string) error {
	sender, ok := d.senders.Get(ch)
	if !ok {
		return fmt.Errorf("%w: no sender for channel %q", ErrDelivery, ch)
	}
	err := sender.SendText(ctx, to, content)
	metrics.OutboundSends.WithLabelValues(ch.String(), metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func (d *Dispatcher) generate(ctx context.Context, conversationID, text string) (string, error) {
	if d.replier == nil {
		return "", fmt.Errorf("%w: replier not configured", ErrGeneration)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.GenerationTimeout)
	defer cancel()
	start := time.Now()
	reply, err := d.replier.Reply(ctx, conversationID, text)
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return reply, nil
}

func (d *Dispatcher) withLock(conversationID string, fn func() error) error {
	defer func() { metrics.Conversations.Set(float64(d.locks.Len())) }()
	return d.locks.WithLock(conversationID, fn)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
