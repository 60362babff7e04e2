// Package pipeline drives message flow from the mail source through
// filtering, matching, and extraction into the report sink, enforcing
// ordering, idempotence, and at-most-once delivery.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nhle/incident-reporter/internal/extract"
	"github.com/nhle/incident-reporter/internal/match"
	"github.com/nhle/incident-reporter/internal/model"
	"github.com/nhle/incident-reporter/internal/sink"
	"github.com/nhle/incident-reporter/internal/source"
	"github.com/nhle/incident-reporter/internal/store"
)

// ConfigProvider supplies snapshots of the four mapping tables. The
// coordinator reads one snapshot per scan so a run is reproducible even
// if an admin saves mid-scan.
type ConfigProvider interface {
	Companies() (model.AliasTable, error)
	IncidentCodes() (model.AliasTable, error)
	KeywordRules() ([]model.KeywordRule, error)
	FieldMapping() (model.FieldMapping, error)
}

// Outcome classifies what happened to one message.
type Outcome string

const (
	// OutcomeAppended: the record landed in the report.
	OutcomeAppended Outcome = "appended"
	// OutcomeDuplicate: the message id was already processed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeFiltered: rejected by the timestamp cutoff; not marked
	// processed, a later filter change may re-admit it.
	OutcomeFiltered Outcome = "filtered"
	// OutcomeNoMatch: no keyword rule matched; marked processed.
	OutcomeNoMatch Outcome = "no_match"
	// OutcomeFailed: extraction or append failed; see Err.
	OutcomeFailed Outcome = "failed"
	// OutcomeSourceDown: the scan could not reach the mail source.
	OutcomeSourceDown Outcome = "source_down"
)

// Result reports the disposition of a single message (or scan failure).
type Result struct {
	MessageID string
	Outcome   Outcome
	Category  string
	Row       int
	Err       error
}

// fetchTimeout bounds the wait on the mail source per poll cycle.
// Exceeding it is a recoverable source-unavailable condition, not fatal.
const fetchTimeout = 30 * time.Second

// maxBackoff caps the retry delay after repeated source failures.
const maxBackoff = 10 * time.Minute

// tables is one immutable configuration snapshot.
type tables struct {
	companies model.AliasTable
	codes     model.AliasTable
	rules     []model.KeywordRule
	mapping   model.FieldMapping
}

// Coordinator runs the ingestion loop. Continuous mode polls in a
// background goroutine; on-demand mode is a single bounded scan. Matching
// and extraction may run concurrently, but sink delivery is serialized
// through a single critical section.
type Coordinator struct {
	src    source.Source
	state  store.Store
	sink   sink.Sink
	cfg    ConfigProvider
	filter *model.FilterState

	interval time.Duration

	// deliverMu guards the processed-set recheck, the sink append, and
	// the processed mark as one unit, so concurrent deliveries of the
	// same message id still yield exactly one row.
	deliverMu sync.Mutex

	resultCh  chan Result
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu      sync.Mutex
	running bool
}

// New creates a Coordinator. interval is the continuous-mode poll period.
func New(
	src source.Source,
	state store.Store,
	snk sink.Sink,
	cfg ConfigProvider,
	filter *model.FilterState,
	interval time.Duration,
) *Coordinator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Coordinator{
		src:       src,
		state:     state,
		sink:      snk,
		cfg:       cfg,
		filter:    filter,
		interval:  interval,
		resultCh:  make(chan Result, 64),
		triggerCh: make(chan struct{}, 1),
	}
}

// Results returns the channel on which continuous mode reports message
// dispositions.
func (c *Coordinator) Results() <-chan Result {
	return c.resultCh
}

// Start launches the continuous polling loop. It is a no-op when the
// loop is already running.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go c.loop()
}

// Stop signals the loop to halt and waits for it to drain: an in-flight
// message finishes processing before the loop exits, so no message is
// abandoned mid-append.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	<-done
}

// Trigger requests an immediate poll of the mail source.
func (c *Coordinator) Trigger() {
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

// loop is the continuous-mode body: scan immediately, then on every tick
// or trigger, backing off while the source is unavailable.
func (c *Coordinator) loop() {
	defer close(c.doneCh)

	backoff := c.interval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-timer.C:
		case <-c.triggerCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		err := c.scan()
		switch {
		case err == nil:
			backoff = c.interval
		case source.IsUnavailable(err):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			c.send(Result{Outcome: OutcomeSourceDown, Err: err})
		default:
			c.send(Result{Outcome: OutcomeFailed, Err: err})
			backoff = c.interval
		}

		timer.Reset(backoff)
	}
}

// scan performs one poll cycle, streaming per-message results to the
// result channel. It stops early, after finishing the current message,
// when a stop has been signalled.
func (c *Coordinator) scan() error {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	tabs, err := c.snapshot()
	if err != nil {
		return err
	}

	msgs, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		c.send(c.process(ctx, msg, tabs))

		select {
		case <-c.stopCh:
			return nil
		default:
		}
	}

	return nil
}

// ScanOnce performs a single bounded scan of currently available
// messages and returns every message's disposition. Used by on-demand
// mode; safe to call while the continuous loop is not running.
func (c *Coordinator) ScanOnce(ctx context.Context) ([]Result, error) {
	tabs, err := c.snapshot()
	if err != nil {
		return nil, err
	}

	msgs, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(msgs))
	for _, msg := range msgs {
		results = append(results, c.process(ctx, msg, tabs))
	}

	return results, nil
}

// fetch asks the source for messages, passing the filter cutoff as the
// enumeration cursor when one is set. The timestamp filter is still
// applied per message; the cursor only narrows the fetch.
func (c *Coordinator) fetch(ctx context.Context) ([]model.InboundMessage, error) {
	var since time.Time
	if cutoff, ok := c.filter.Cutoff(); ok {
		since = cutoff
	}
	return c.src.Messages(ctx, since)
}

// snapshot loads one consistent view of the four mapping tables.
func (c *Coordinator) snapshot() (tables, error) {
	companies, err := c.cfg.Companies()
	if err != nil {
		return tables{}, err
	}
	codes, err := c.cfg.IncidentCodes()
	if err != nil {
		return tables{}, err
	}
	rules, err := c.cfg.KeywordRules()
	if err != nil {
		return tables{}, err
	}
	mapping, err := c.cfg.FieldMapping()
	if err != nil {
		return tables{}, err
	}
	return tables{companies: companies, codes: codes, rules: rules, mapping: mapping}, nil
}

// process runs the per-message algorithm: dedup check, timestamp filter,
// keyword match, extraction, serialized sink delivery. A failure is
// isolated to its message; the caller continues with the next one.
func (c *Coordinator) process(ctx context.Context, msg model.InboundMessage, tabs tables) Result {
	processed, err := c.state.IsProcessed(ctx, msg.UID)
	if err != nil {
		return Result{MessageID: msg.UID, Outcome: OutcomeFailed, Err: err}
	}
	if processed {
		return Result{MessageID: msg.UID, Outcome: OutcomeDuplicate}
	}

	if !c.filter.Admits(msg.ReceivedAt) {
		// Not marked processed: a later filter change may re-admit it.
		return Result{MessageID: msg.UID, Outcome: OutcomeFiltered}
	}

	res, ok := match.Match(msg.Body, tabs.rules)
	if !ok {
		if err := c.state.MarkProcessed(ctx, msg.UID, ""); err != nil {
			return Result{MessageID: msg.UID, Outcome: OutcomeFailed, Err: err}
		}
		return Result{MessageID: msg.UID, Outcome: OutcomeNoMatch}
	}

	rec, err := extract.Extract(msg, res, tabs.companies, tabs.codes)
	if err != nil {
		// Malformed messages stay malformed; mark processed so the
		// batch is not re-poisoned on every scan.
		if markErr := c.state.MarkProcessed(ctx, msg.UID, res.Category); markErr != nil {
			err = errors.Join(err, markErr)
		}
		return Result{MessageID: msg.UID, Outcome: OutcomeFailed, Category: res.Category, Err: err}
	}

	return c.deliver(ctx, rec, tabs.mapping, true)
}

// deliver hands a record to the sink inside the global delivery critical
// section. The processed set is rechecked under the lock so concurrent
// deliveries of the same message id produce one row. retainOnFailure is
// false when replaying an already-retained record, so a second failure
// does not duplicate the pending row.
func (c *Coordinator) deliver(ctx context.Context, rec model.ExtractedRecord, mapping model.FieldMapping, retainOnFailure bool) Result {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	processed, err := c.state.IsProcessed(ctx, rec.SourceMessageID)
	if err != nil {
		return Result{MessageID: rec.SourceMessageID, Outcome: OutcomeFailed, Err: err}
	}
	if processed {
		return Result{MessageID: rec.SourceMessageID, Outcome: OutcomeDuplicate}
	}

	outcome, err := c.sink.Append(rec, mapping)
	if err != nil {
		// Not marked processed; the record is retained for retry.
		if retainOnFailure {
			if retainErr := c.state.RetainPending(ctx, rec, err.Error()); retainErr != nil {
				err = retainErr
			}
		}
		return Result{
			MessageID: rec.SourceMessageID,
			Outcome:   OutcomeFailed,
			Category:  rec.MatchedCategory,
			Err:       err,
		}
	}

	if err := c.state.MarkProcessed(ctx, rec.SourceMessageID, rec.MatchedCategory); err != nil {
		return Result{MessageID: rec.SourceMessageID, Outcome: OutcomeFailed, Err: err}
	}

	return Result{
		MessageID: rec.SourceMessageID,
		Outcome:   OutcomeAppended,
		Category:  rec.MatchedCategory,
		Row:       outcome.Row,
	}
}

// RetryPending replays records retained after earlier sink failures.
// Records whose message id was appended in the meantime are resolved
// without a second append.
func (c *Coordinator) RetryPending(ctx context.Context) ([]Result, error) {
	mapping, err := c.cfg.FieldMapping()
	if err != nil {
		return nil, err
	}

	pending, err := c.state.PendingRecords(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(pending))
	for _, p := range pending {
		res := c.deliver(ctx, p.Record, mapping, false)
		if res.Outcome == OutcomeAppended || res.Outcome == OutcomeDuplicate {
			if err := c.state.ResolvePending(ctx, p.ID); err != nil {
				res = Result{MessageID: p.Record.SourceMessageID, Outcome: OutcomeFailed, Err: err}
			}
		}
		results = append(results, res)
	}

	return results, nil
}

// send reports a result without blocking the ingestion loop. The channel
// is diagnostics only; durable state lives in the store and the sink.
func (c *Coordinator) send(res Result) {
	select {
	case c.resultCh <- res:
	default:
	}
}
