package remotestats

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pandasdroid/vps-management/internal/logutil"
)

const pollTimeout = time.Minute

// Poller collects snapshots for every connected host on a cron schedule and
// keeps only the latest one per key.
type Poller struct {
	exec Executor
	keys func() []string
	cron *cron.Cron

	mu     sync.RWMutex
	latest map[string]Snapshot
}

// NewPoller schedules collection. keys lists the hosts to poll on each run;
// schedule is any robfig/cron spec such as "@every 5s".
func NewPoller(exec Executor, keys func() []string, schedule string) (*Poller, error) {
	p := &Poller{
		exec:   exec,
		keys:   keys,
		latest: make(map[string]Snapshot),
	}
	p.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))))
	if _, err := p.cron.AddFunc(schedule, func() { p.Poll(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule stats poller %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins scheduled polling.
func (p *Poller) Start() {
	p.cron.Start()
	log.Printf("[stats] poller started")
}

// Stop halts scheduling and waits for a running poll to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
	log.Printf("[stats] poller stopped")
}

// Poll collects every key once. Snapshots of keys no longer listed are
// dropped.
func (p *Poller) Poll(ctx context.Context) {
	keys := p.keys()
	live := make(map[string]bool, len(keys))
	var wg sync.WaitGroup
	for _, key := range keys {
		live[key] = true
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if _, err := p.Refresh(ctx, key); err != nil {
				log.Printf("[stats] poll %s: %v", logutil.SanitizeForLog(key), err)
			}
		}(key)
	}
	wg.Wait()

	p.mu.Lock()
	for key := range p.latest {
		if !live[key] {
			delete(p.latest, key)
		}
	}
	p.mu.Unlock()
}

// Refresh collects key now and stores the result.
func (p *Poller) Refresh(ctx context.Context, key string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	snap, err := Collect(ctx, p.exec, key)
	if err != nil {
		p.Forget(key)
		return Snapshot{}, err
	}
	p.mu.Lock()
	p.latest[key] = snap
	p.mu.Unlock()
	return snap, nil
}

// Latest returns the most recent snapshot for key.
func (p *Poller) Latest(key string) (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.latest[key]
	return snap, ok
}

// Forget drops the stored snapshot for key.
func (p *Poller) Forget(key string) {
	p.mu.Lock()
	delete(p.latest, key)
	p.mu.Unlock()
}
