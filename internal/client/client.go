// Package client runs one Stratum mining session: it connects to the pool,
// subscribes and authorizes, feeds pool jobs to the miner and submits the
// shares it finds.
package client

import (
	"context"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bardlex/gompminer/internal/jobqueue"
	"github.com/bardlex/gompminer/internal/metrics"
	"github.com/bardlex/gompminer/internal/miner"
	"github.com/bardlex/gompminer/internal/reporting"
	"github.com/bardlex/gompminer/internal/session"
	"github.com/bardlex/gompminer/internal/stratum"
	"github.com/bardlex/gompminer/internal/validation"
	minerErrors "github.com/bardlex/gompminer/pkg/errors"
	"github.com/bardlex/gompminer/pkg/log"
	"github.com/bardlex/gompminer/pkg/retry"
)

// DialFunc opens the raw pool connection. It lets tests substitute an
// in-memory pool.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Config configures a session.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	UserAgent string

	DialTimeout  time.Duration
	DialAttempts int
	// Dial overrides the TCP dialer when set.
	Dial DialFunc

	KeepaliveInterval time.Duration
	StatsInterval     time.Duration
	QueueCapacity     int
	SubmitRate        float64
	SubmitBurst       int
	// MaxTimeSkew rejects found shares whose ntime is this far ahead of the
	// local clock. Zero disables the check.
	MaxTimeSkew time.Duration

	Conn  stratum.ConnConfig
	Miner miner.Config
}

// found is a solution travelling from the mining loop to the dispatcher.
// The mining loop waits on ack before popping the next job, because Pop
// cancels jobCtx and would make every share look stale.
type found struct {
	result miner.Result
	jobCtx context.Context
	ack    chan struct{}
}

// Client runs one session. It is not reusable after Run returns.
type Client struct {
	config Config
	addr   string
	logger *log.Logger

	state     *session.State
	queue     *jobqueue.Queue
	codec     *stratum.Codec
	worker    *miner.Worker
	validator *validation.ShareValidator
	limiter   *rate.Limiter
	reporter  *reporting.Reporter

	conn    *stratum.Conn
	results chan found

	hashrate   atomic.Uint64 // float64 bits
	lastHashes uint64
}

// New creates a client. reporter may be nil.
func New(config Config, logger *log.Logger, reporter *reporting.Reporter) *Client {
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = time.Minute
	}
	if config.SubmitRate <= 0 {
		config.SubmitRate = 10
	}
	if config.SubmitBurst <= 0 {
		config.SubmitBurst = 20
	}
	if reporter == nil {
		reporter = reporting.New(reporting.Config{}, logger)
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	c := &Client{
		config:    config,
		addr:      addr,
		logger:    logger.WithPool(addr, config.User),
		state:     session.New(),
		queue:     jobqueue.New(config.QueueCapacity),
		codec:     stratum.NewCodec(stratum.DefaultPendingRequests),
		validator: validation.NewShareValidator(config.MaxTimeSkew),
		limiter:   rate.NewLimiter(rate.Limit(config.SubmitRate), config.SubmitBurst),
		reporter:  reporter,
		results:   make(chan found),
	}

	minerConfig := config.Miner
	onHashes := minerConfig.OnHashes
	minerConfig.OnHashes = func(n uint64) {
		c.state.AddHashes(n)
		metrics.HashesTotal.Add(float64(n))
		if onHashes != nil {
			onHashes(n)
		}
	}
	c.worker = miner.New(minerConfig, logger)
	return c
}

// State exposes the session state for inspection.
func (c *Client) State() *session.State {
	return c.state
}

// Run executes the session until ctx is cancelled or a fatal error occurs.
// Cancellation returns nil; connection loss, a denied authorization and a
// failed subscribe return the corresponding error.
func (c *Client) Run(ctx context.Context) error {
	c.state.SetConnecting()
	c.observePhase()

	conn, err := retry.DoWithResult(ctx, retry.DialConfig(c.config.DialAttempts), func() (*stratum.Conn, error) {
		return c.dial(ctx)
	})
	if err != nil {
		c.logger.WithError(err).Error("failed to connect to pool")
		c.observeDisconnected()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	c.conn = conn
	defer c.observeDisconnected()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 1)
	fail := func(err error) {
		select {
		case fatal <- err:
		default:
		}
		cancel()
	}

	lines := make(chan []byte, 64)
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() {
		err := conn.ReadLoop(runCtx, func(line []byte) {
			select {
			case lines <- line:
			case <-runCtx.Done():
			}
		})
		if err != nil && runCtx.Err() == nil {
			fail(err)
		}
	})
	spawn(func() {
		if err := c.dispatch(runCtx, lines); err != nil {
			fail(err)
		}
	})

	if err := c.handshake(runCtx); err != nil {
		fail(err)
	}

	spawn(func() { c.mine(runCtx) })
	spawn(func() {
		if err := NewKeepalive(c.config.KeepaliveInterval, c.sendAuthorize, c.logger).Run(runCtx); err != nil {
			fail(err)
		}
	})
	spawn(func() { c.statsLoop(runCtx) })

	<-runCtx.Done()
	_ = conn.Close()
	c.queue.Clear()
	wg.Wait()

	c.logStats()

	select {
	case err := <-fatal:
		c.logger.WithError(err).Error("session ended")
		return err
	default:
		c.logger.Info("session stopped")
		return nil
	}
}

func (c *Client) dial(ctx context.Context) (*stratum.Conn, error) {
	if c.config.Dial == nil {
		return stratum.Dial(ctx, c.config.Host, c.config.Port, c.config.DialTimeout, c.config.Conn, c.logger)
	}

	dialCtx := ctx
	if c.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.config.DialTimeout)
		defer cancel()
	}
	nc, err := c.config.Dial(dialCtx, c.addr)
	if err != nil {
		return nil, minerErrors.Connection("dial", err).WithContext("addr", c.addr)
	}
	return stratum.NewConn(nc, c.config.Conn, c.logger), nil
}

// handshake sends subscribe then authorize without waiting for replies;
// the dispatcher processes the answers in order.
func (c *Client) handshake(ctx context.Context) error {
	line, _, err := c.codec.Subscribe(c.config.UserAgent)
	if err != nil {
		return err
	}
	if err := c.conn.Send(ctx, line); err != nil {
		return err
	}
	return c.sendAuthorize(ctx)
}

func (c *Client) sendAuthorize(ctx context.Context) error {
	line, _, err := c.codec.Authorize(c.config.User, c.config.Password)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, line)
}

// dispatch handles inbound lines and worker results on one goroutine, so
// messages are applied in wire order and every staleness check sees the
// clean jobs received before it.
func (c *Client) dispatch(ctx context.Context, lines <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			if err := c.handleLine(ctx, line); err != nil {
				return err
			}
		case f := <-c.results:
			// lines already read were received before this result
			err := c.drainLines(ctx, lines)
			if err == nil {
				err = c.handleResult(ctx, f.result, f.jobCtx)
			}
			close(f.ack)
			if err != nil {
				return err
			}
		}
	}
}

// drainLines handles every buffered line without blocking.
func (c *Client) drainLines(ctx context.Context, lines <-chan []byte) error {
	for {
		select {
		case line := <-lines:
			if err := c.handleLine(ctx, line); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Client) handleLine(ctx context.Context, line []byte) error {
	msg, err := c.codec.Decode(line)
	if err != nil {
		metrics.ProtocolErrors.Inc()
		c.logger.WithError(err).Warn("dropping malformed message", "line", string(line))
		return nil
	}

	switch m := msg.(type) {
	case *stratum.Notify:
		c.handleNotify(m.Job)
	case *stratum.SetDifficulty:
		c.state.SetDifficulty(m.Difficulty)
		metrics.PoolDifficulty.Set(m.Difficulty)
		c.logger.Info("difficulty changed", "difficulty", m.Difficulty)
	case *stratum.Response:
		return c.handleResponse(m)
	case *stratum.ServerCommand:
		c.handleCommand(m)
	}
	return nil
}

func (c *Client) handleNotify(job *stratum.Job) {
	discarded := c.queue.Push(job)

	metrics.JobsReceived.WithLabelValues(strconv.FormatBool(job.CleanJobs)).Inc()
	if discarded > 0 {
		metrics.JobsDiscarded.Add(float64(discarded))
	}
	c.logger.LogJobReceived(job.JobID, job.CleanJobs, c.queue.Len())
}

func (c *Client) handleResponse(resp *stratum.Response) error {
	switch resp.Method {
	case stratum.MethodSubscribe:
		if resp.Error != nil {
			return minerErrors.Protocol("subscribe", resp.Reason())
		}
		res, err := stratum.ParseSubscribeResult(resp.Result)
		if err != nil {
			return minerErrors.Protocol("subscribe", err.Error())
		}
		c.state.SetSubscribed(res)
		c.observePhase()
		c.logger.Info("subscribed",
			"extranonce1", res.ExtraNonce1,
			"extranonce2_size", res.ExtraNonce2Size,
		)

	case stratum.MethodAuthorize:
		if !resp.Accepted() {
			return minerErrors.Authorization(c.config.User, resp.Reason())
		}
		if !c.state.IsAuthorized() {
			c.state.SetAuthorized()
			c.observePhase()
			c.logger.Info("authorized")
		}

	case stratum.MethodSubmit:
		c.handleSubmitResponse(resp)

	default:
		c.logger.Debug("response to unknown request", "id", resp.ID)
	}
	return nil
}

func (c *Client) handleSubmitResponse(resp *stratum.Response) {
	share := resp.Submit
	if share == nil {
		return
	}
	difficulty := c.state.Difficulty()

	ev := reporting.ShareEvent{
		Pool:             c.addr,
		User:             c.config.User,
		JobID:            share.JobID,
		ExtraNonce2:      share.ExtraNonce2,
		NTime:            share.NTime,
		Nonce:            share.Nonce,
		TargetDifficulty: difficulty,
		At:               time.Now(),
	}

	if resp.Accepted() {
		c.state.RecordAccepted()
		metrics.Shares.WithLabelValues(string(reporting.StatusAccepted)).Inc()
		c.logger.LogShareSubmission(share.JobID, share.ExtraNonce2, share.Nonce, difficulty, string(reporting.StatusAccepted))
		ev.Status = reporting.StatusAccepted
	} else {
		err := minerErrors.ShareRejected(share.JobID, resp.Reason())
		c.state.RecordRejected()
		metrics.Shares.WithLabelValues(string(reporting.StatusRejected)).Inc()
		c.logger.WithError(err).Warn("share rejected",
			"job_id", share.JobID,
			"nonce", share.Nonce,
			"reason", resp.Reason(),
		)
		ev.Status = reporting.StatusRejected
		ev.Reason = resp.Reason()
	}
	c.reporter.Share(ev)
}

func (c *Client) handleCommand(cmd *stratum.ServerCommand) {
	switch cmd.Method {
	case stratum.MethodSetExtranonce:
		extraNonce1, size, err := stratum.ParseSetExtranonce(cmd.Params)
		if err != nil {
			metrics.ProtocolErrors.Inc()
			c.logger.WithError(err).Warn("ignoring malformed set_extranonce")
			return
		}
		c.state.SetExtranonce(extraNonce1, size)
		c.logger.Info("extranonce changed", "extranonce1", extraNonce1, "extranonce2_size", size)

	case stratum.MethodReconnect:
		c.logger.Warn("pool requested reconnect, ignoring", "params", cmd.Params)

	case stratum.MethodShowMessage:
		c.logger.Info("pool message", "params", cmd.Params)

	default:
		c.logger.Warn("unsupported server method", "method", cmd.Method)
	}
}

// handleResult decides whether a solution is submitted. It runs on the
// dispatcher, after every line received before it.
func (c *Client) handleResult(ctx context.Context, res miner.Result, jobCtx context.Context) error {
	share := res.Share
	work := res.Work
	ev := reporting.ShareEvent{
		Pool:             c.addr,
		User:             c.config.User,
		JobID:            share.JobID,
		ExtraNonce2:      share.ExtraNonce2,
		NTime:            share.NTime,
		Nonce:            share.Nonce,
		Hash:             share.Hash.String(),
		Difficulty:       share.Difficulty,
		TargetDifficulty: work.Difficulty,
		BlockCandidate:   share.BlockCandidate,
		At:               time.Now(),
	}

	if jobCtx.Err() != nil {
		c.state.RecordStale()
		metrics.Shares.WithLabelValues(string(reporting.StatusStale)).Inc()
		c.logger.LogShareSubmission(share.JobID, share.ExtraNonce2, share.Nonce, work.Difficulty, string(reporting.StatusStale))
		ev.Status = reporting.StatusStale
		c.reporter.Share(ev)
		return nil
	}

	if err := c.validator.ValidateShare(share, work); err != nil {
		metrics.Shares.WithLabelValues(string(reporting.StatusInvalid)).Inc()
		c.logger.WithError(err).Error("found share failed validation", "job_id", share.JobID, "nonce", share.Nonce)
		ev.Status = reporting.StatusInvalid
		ev.Reason = string(validation.ReasonOf(err))
		c.reporter.Share(ev)
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}

	line, _, err := c.codec.Submit(c.config.User, stratum.SubmitRequest{
		JobID:       share.JobID,
		ExtraNonce2: share.ExtraNonce2,
		NTime:       share.NTime,
		Nonce:       share.Nonce,
	})
	if err != nil {
		c.logger.WithError(err).Error("failed to encode submit")
		return nil
	}
	if err := c.conn.Send(ctx, line); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	c.state.RecordSubmitted()
	metrics.Shares.WithLabelValues(string(reporting.StatusSubmitted)).Inc()
	c.logger.LogShareSubmission(share.JobID, share.ExtraNonce2, share.Nonce, share.Difficulty, string(reporting.StatusSubmitted))
	if share.BlockCandidate {
		metrics.BlockCandidates.Inc()
		c.logger.LogBlockCandidate(share.Hash.String(), share.JobID)
	}
	ev.Status = reporting.StatusSubmitted
	c.reporter.Share(ev)
	return nil
}

// mine runs one search at a time until ctx ends.
func (c *Client) mine(ctx context.Context) {
	if err := c.state.AwaitAuthorized(ctx); err != nil {
		return
	}
	c.logger.Info("mining started", "threads", c.config.Miner.Threads)

	for {
		job, jobCtx, err := c.queue.Pop(ctx)
		if err != nil {
			return
		}

		work := c.state.NextWork(job)
		res, err := c.worker.Search(jobCtx, work)
		if err != nil {
			metrics.ProtocolErrors.Inc()
			c.logger.WithJob(job.JobID, job.CleanJobs).WithError(err).Warn("skipping unusable job")
			continue
		}
		if res.Outcome != miner.Solution {
			continue
		}

		f := found{result: res, jobCtx: jobCtx, ack: make(chan struct{})}
		select {
		case c.results <- f:
		case <-ctx.Done():
			return
		}
		select {
		case <-f.ack:
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot returns the current session statistics.
func (c *Client) Snapshot() reporting.StatsSnapshot {
	st := c.state.Stats()
	return reporting.StatsSnapshot{
		Pool:            c.addr,
		User:            c.config.User,
		Phase:           st.Phase.String(),
		Difficulty:      st.Difficulty,
		SharesSubmitted: st.SharesSubmitted,
		SharesAccepted:  st.SharesAccepted,
		SharesRejected:  st.SharesRejected,
		SharesStale:     st.SharesStale,
		Hashes:          st.Hashes,
		Hashrate:        math.Float64frombits(c.hashrate.Load()),
		Uptime:          time.Since(st.StartedAt),
		At:              time.Now(),
	}
}

func (c *Client) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.StatsInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			hashes := c.state.Stats().Hashes
			delta := hashes - c.lastHashes
			c.lastHashes = hashes

			interval := now.Sub(last)
			last = now
			if interval > 0 {
				hr := float64(delta) / interval.Seconds()
				c.hashrate.Store(math.Float64bits(hr))
				metrics.Hashrate.Set(hr)
			}
			c.logger.LogThroughput(delta, interval)

			snap := c.Snapshot()
			metrics.UptimeSeconds.Set(snap.Uptime.Seconds())
			c.logStats()
			c.reporter.Stats(snap)
		}
	}
}

func (c *Client) logStats() {
	snap := c.Snapshot()
	c.logger.Info("session stats",
		"phase", snap.Phase,
		"difficulty", snap.Difficulty,
		"submitted", snap.SharesSubmitted,
		"accepted", snap.SharesAccepted,
		"rejected", snap.SharesRejected,
		"stale", snap.SharesStale,
		"hashes", snap.Hashes,
		"uptime", reporting.FormatUptime(snap.Uptime),
	)
}

func (c *Client) observePhase() {
	metrics.SessionPhase.Set(float64(c.state.Phase()))
}

func (c *Client) observeDisconnected() {
	metrics.SessionPhase.Set(float64(session.PhaseDisconnected))
}
