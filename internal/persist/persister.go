package persist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/notify"
)

// Config holds persistence configuration.
type Config struct {
	// Debounce is how long to wait after the last request before a round runs.
	Debounce time.Duration

	// MaxWait caps how long a burst of requests can postpone a round.
	MaxWait time.Duration

	// RetryInterval re-arms a failed round.
	RetryInterval time.Duration

	// ProbeTimeout bounds the remote liveness probe.
	ProbeTimeout time.Duration

	// Notifier receives the once-per-episode total failure warning.
	Notifier notify.Notifier

	// Bus receives persist-failed notifications (optional).
	Bus *notify.Bus

	// Clock supplies timestamps (default: time.Now).
	Clock model.Clock

	// Logger for persistence activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:      2 * time.Second,
		MaxWait:       10 * time.Second,
		RetryInterval: 30 * time.Second,
		ProbeTimeout:  3 * time.Second,
		Notifier:      notify.Nop{},
		Clock:         time.Now,
		Logger:        log.New(os.Stderr, "[persist] ", log.LstdFlags),
	}
}

// TierResult is the outcome of one tier in one round.
type TierResult struct {
	Tier     string        `json:"tier"`
	Skipped  bool          `json:"skipped,omitempty"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RoundResult summarizes one persist round.
type RoundResult struct {
	At        time.Time    `json:"at"`
	Records   int          `json:"records"`
	Tiers     []TierResult `json:"tiers"`
	Succeeded int          `json:"succeeded"`
	Synced    int          `json:"synced"`
	Backup    string       `json:"backup,omitempty"`
}

// TierStatus describes a tier's availability.
type TierStatus struct {
	Name      string    `json:"name"`
	Remote    bool      `json:"remote"`
	Available bool      `json:"available"`
	LastProbe time.Time `json:"last_probe,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Status is a point-in-time view of the persister.
type Status struct {
	Tiers     []TierStatus `json:"tiers"`
	Rounds    int          `json:"rounds"`
	LastRound *RoundResult `json:"last_round,omitempty"`
	Failing   bool         `json:"failing"`
}

type tierState struct {
	tier      Tier
	probed    bool
	available bool
	lastProbe time.Time
	lastErr   string
}

// Persister writes snapshots of a Source through its tiers.
type Persister struct {
	source Source
	config *Config

	stateMu sync.Mutex
	states  []*tierState
	rounds  int
	last    *RoundResult
	failing bool

	roundMu   sync.Mutex
	debouncer *Debouncer
	running   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a persister for source writing through tiers in preference
// order.
func New(source Source, tiers []Tier, config *Config) (*Persister, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("at least one tier is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Notifier == nil {
		config.Notifier = defaults.Notifier
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}

	p := &Persister{
		source: source,
		config: config,
	}
	for _, t := range tiers {
		// Local tiers are assumed available until they say otherwise.
		p.states = append(p.states, &tierState{tier: t, probed: !t.Remote(), available: !t.Remote()})
	}
	p.debouncer = NewDebouncer(config.Debounce, config.MaxWait, config.RetryInterval, func() error {
		_, err := p.Persist(p.ctx)
		return err
	})
	return p, nil
}

// Start launches the debounce worker.
func (p *Persister) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.debouncer.Run(p.ctx)
	}()
	p.config.Logger.Printf("Persistence started with %d tiers (debounce %v)", len(p.states), p.config.Debounce)
}

// Stop flushes pending work and stops the worker.
func (p *Persister) Stop(ctx context.Context) error {
	if !p.running.Load() {
		return nil
	}
	_, err := p.Flush(ctx)
	p.cancel()
	p.wg.Wait()
	p.running.Store(false)
	p.config.Logger.Println("Persistence stopped")
	return err
}

// RequestPersist schedules a debounced round. Without a running worker the
// request is dropped and the caller is expected to Flush.
func (p *Persister) RequestPersist() {
	if p.running.Load() {
		p.debouncer.Trigger()
	}
}

// Flush runs a round immediately, cancelling any pending debounce.
func (p *Persister) Flush(ctx context.Context) (*RoundResult, error) {
	if p.running.Load() {
		if err := p.debouncer.Flush(ctx); err != nil {
			return p.LastRound(), err
		}
		return p.LastRound(), nil
	}
	return p.Persist(ctx)
}

// Persist executes one round: snapshot, concurrent tier writes, synced
// marking, and the emergency path when nothing succeeded. It reflects the
// store at the moment it runs.
func (p *Persister) Persist(ctx context.Context) (*RoundResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.roundMu.Lock()
	defer p.roundMu.Unlock()

	p.probeUnprobed(ctx)

	snap, marks := p.source.Snapshot()
	round := &RoundResult{
		At:      p.config.Clock(),
		Records: snap.Metadata.TotalRecords,
	}

	// Writes are not cancelled once issued.
	writeCtx := context.WithoutCancel(ctx)

	results := pool.NewWithResults[TierResult]()
	for _, st := range p.states {
		tier := st.tier
		if !p.isAvailable(st) {
			round.Tiers = append(round.Tiers, TierResult{Tier: tier.Name(), Skipped: true})
			continue
		}
		results.Go(func() TierResult {
			start := time.Now()
			err := tier.Write(writeCtx, snap)
			return TierResult{Tier: tier.Name(), Err: err, Duration: time.Since(start)}
		})
	}
	round.Tiers = append(round.Tiers, results.Wait()...)
	sort.SliceStable(round.Tiers, func(i, j int) bool {
		return p.rank(round.Tiers[i].Tier) < p.rank(round.Tiers[j].Tier)
	})

	failures := make(map[string]error)
	for i := range round.Tiers {
		r := &round.Tiers[i]
		switch {
		case r.Skipped:
		case errors.Is(r.Err, ErrUnavailable):
			r.Skipped = true
			r.Error = r.Err.Error()
			p.markDown(r.Tier, r.Err)
		case r.Err != nil:
			r.Error = r.Err.Error()
			failures[r.Tier] = r.Err
			if p.isRemote(r.Tier) {
				// Skip until the next scheduled probe.
				p.markDown(r.Tier, r.Err)
			}
			p.config.Logger.Printf("WARNING: tier %s write failed: %v", r.Tier, r.Err)
		default:
			round.Succeeded++
		}
	}

	var err error
	switch {
	case round.Succeeded == 0:
		total := &TotalPersistenceFailure{Failures: failures}
		total.Backup, total.BackupErr = p.emergencyDump(writeCtx, snap)
		round.Backup = total.Backup
		err = total
		p.raiseEpisode(total)

	case len(failures) > 0:
		// Durability is incomplete: records stay unsynced and the round is retried.
		err = &PersistenceError{Failures: failures}
		p.endEpisode()

	default:
		round.Synced = p.source.MarkSynced(marks)
		p.endEpisode()
	}

	p.stateMu.Lock()
	p.rounds++
	p.last = round
	p.stateMu.Unlock()

	if err != nil {
		p.config.Logger.Printf("Persist round finished with error: %v", err)
	} else {
		p.config.Logger.Printf("Persisted %d records to %d tiers (%d marked synced)", round.Records, round.Succeeded, round.Synced)
	}
	return round, err
}

// ProbeRemote checks every remote tier with the configured timeout and
// records availability until the next probe.
func (p *Persister) ProbeRemote(ctx context.Context) {
	for _, st := range p.states {
		if !st.tier.Remote() {
			continue
		}
		p.probe(ctx, st)
	}
}

func (p *Persister) probeUnprobed(ctx context.Context) {
	for _, st := range p.states {
		p.stateMu.Lock()
		needs := !st.probed
		p.stateMu.Unlock()
		if needs {
			p.probe(ctx, st)
		}
	}
}

func (p *Persister) probe(ctx context.Context, st *tierState) {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.ProbeTimeout)
	defer cancel()

	err := st.tier.Probe(probeCtx)

	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	wasAvailable := st.available
	st.probed = true
	st.lastProbe = p.config.Clock()
	st.available = err == nil
	if err != nil {
		st.lastErr = err.Error()
		if wasAvailable {
			p.config.Logger.Printf("WARNING: tier %s unreachable, skipping until next probe: %v", st.tier.Name(), err)
		}
		return
	}
	st.lastErr = ""
	if !wasAvailable {
		p.config.Logger.Printf("Tier %s is available", st.tier.Name())
	}
}

// LoadInitial fills the source from the first tier holding a non-empty
// snapshot. If none does, the source gets an empty versioned snapshot. The
// returned string names the tier that served the data.
func (p *Persister) LoadInitial(ctx context.Context) (string, error) {
	p.ProbeRemote(ctx)

	for _, st := range p.states {
		if !p.isAvailable(st) {
			continue
		}
		snap, err := st.tier.Load(ctx)
		if err != nil {
			p.config.Logger.Printf("WARNING: failed to load from tier %s: %v", st.tier.Name(), err)
			if errors.Is(err, ErrUnavailable) {
				p.markDown(st.tier.Name(), err)
			}
			continue
		}
		if snap.IsEmpty() {
			continue
		}
		p.source.Load(snap)
		p.config.Logger.Printf("Loaded %d records from tier %s", len(snap.Events)+len(snap.Tasks), st.tier.Name())
		return st.tier.Name(), nil
	}

	p.source.Load(model.NewSnapshot(p.config.Clock()))
	p.config.Logger.Println("No stored snapshot found, starting empty")
	return "", nil
}

// Status returns tier availability and the last round.
func (p *Persister) Status() Status {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	out := Status{Rounds: p.rounds, Failing: p.failing}
	if p.last != nil {
		last := *p.last
		out.LastRound = &last
	}
	for _, st := range p.states {
		out.Tiers = append(out.Tiers, TierStatus{
			Name:      st.tier.Name(),
			Remote:    st.tier.Remote(),
			Available: st.available,
			LastProbe: st.lastProbe,
			LastError: st.lastErr,
		})
	}
	return out
}

// LastRound returns the most recent round, or nil.
func (p *Persister) LastRound() *RoundResult {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.last == nil {
		return nil
	}
	last := *p.last
	return &last
}

// emergencyDump writes the encoded snapshot into the least elaborate local
// tier that still responds.
func (p *Persister) emergencyDump(ctx context.Context, snap *model.Snapshot) (string, error) {
	data, err := snap.Encode()
	if err != nil {
		return "", err
	}

	var errs []error
	for i := len(p.states) - 1; i >= 0; i-- {
		tier := p.states[i].tier
		ew, ok := tier.(EmergencyWriter)
		if !ok || tier.Remote() {
			continue
		}
		loc, err := ew.WriteEmergency(ctx, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
			continue
		}
		p.config.Logger.Printf("Emergency backup written to %s", loc)
		return loc, nil
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("no local tier accepts emergency backups")
	}
	return "", errors.Join(errs...)
}

// raiseEpisode warns once per failure episode.
func (p *Persister) raiseEpisode(err *TotalPersistenceFailure) {
	p.stateMu.Lock()
	first := !p.failing
	p.failing = true
	p.stateMu.Unlock()

	if !first {
		return
	}
	p.config.Notifier.Warning(fmt.Sprintf("Changes are not being saved: %v", err))
	p.config.Bus.Emit(notify.Notification{Kind: notify.PersistFailed, ID: err.Backup, Payload: err.Error()})
}

func (p *Persister) endEpisode() {
	p.stateMu.Lock()
	recovered := p.failing
	p.failing = false
	p.stateMu.Unlock()

	if recovered {
		p.config.Notifier.Success("Persistence recovered")
	}
}

func (p *Persister) isAvailable(st *tierState) bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return st.available
}

func (p *Persister) isRemote(name string) bool {
	for _, st := range p.states {
		if st.tier.Name() == name {
			return st.tier.Remote()
		}
	}
	return false
}

func (p *Persister) markDown(name string, err error) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	for _, st := range p.states {
		if st.tier.Name() != name {
			continue
		}
		st.lastErr = err.Error()
		// Local tiers come back on their own; only remote ones wait for a probe.
		if st.tier.Remote() {
			st.available = false
		}
	}
}

func (p *Persister) rank(name string) int {
	for i, st := range p.states {
		if st.tier.Name() == name {
			return i
		}
	}
	return len(p.states)
}
