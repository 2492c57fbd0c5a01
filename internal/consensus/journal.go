package consensus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/log"
	"github.com/silofs/silofs/internal/resolver"
	"github.com/silofs/silofs/pkg/retry"
)

const (
	journalBaseBackoff = 250 * time.Millisecond
	journalMaxBackoff  = 20 * time.Second
)

// journalBackoff computes the delay before retrying a failed drain attempt,
// exponential with jitter; shared with the retry helper peer RPCs use so the
// journal's backoff curve isn't a second hand-rolled copy of the same math.
var journalBackoff = retry.New(retry.Config{
	InitialDelay: journalBaseBackoff,
	MaxDelay:     journalMaxBackoff,
	Multiplier:   2.0,
	Jitter:       true,
})

// journalEntry is one queued store, and the on-disk shape a spilled entry
// is read back into on replay.
type journalEntry struct {
	Index    uint64
	Addr     block.Address
	Raw      []byte
	Mode     Mode
	Resolver resolver.Resolver // nil for a plain (non-squashable) write

	attempts      int
	nextAttemptAt time.Time
}

type journalEntryWire struct {
	Index        uint64 `json:"index"`
	Addr         string `json:"addr"`
	Raw          []byte `json:"raw"`
	Mode         Mode   `json:"mode"`
	ResolverData []byte `json:"resolver,omitempty"`
}

// AsyncJournal is the outermost Consensus decorator: Store returns as soon
// as the write is durably queued (in memory and spilled to disk), and a
// background worker drains the queue into next with exponential backoff
// on failure. A write is squashed into the last pending entry for the same
// address, as one resolver.Merge, when that entry's Resolver.Squashable
// returns neither Stop nor Skip. Only the last pending entry is compared,
// and a merged entry does not squash again (Merge.Squashable returns
// Stop), so at most two writes fold into one entry; edits to different
// names in one directory (Skip) stay separate entries.
type AsyncJournal struct {
	next Consensus
	dir  string

	mu        sync.Mutex
	byAddr    map[string][]*journalEntry // FIFO per address, oldest first
	order     []*journalEntry            // global FIFO across addresses, for disk index assignment
	nextIndex uint64

	wakeup chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAsyncJournal wraps next with a disk-backed async write queue rooted
// at dir, replaying any entries left over from an unclean shutdown.
func NewAsyncJournal(next Consensus, dir string) (*AsyncJournal, error) {
	j := &AsyncJournal{
		next:   next,
		dir:    dir,
		byAddr: make(map[string][]*journalEntry),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		if err := j.replay(); err != nil {
			return nil, err
		}
	}
	j.wg.Add(1)
	go j.drainLoop()
	return j, nil
}

func (j *AsyncJournal) replay() error {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return err
	}
	var indices []uint64
	byIndex := make(map[uint64]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue // not one of our spill files
		}
		indices = append(indices, idx)
		byIndex[idx] = filepath.Join(j.dir, e.Name())
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })

	logger := log.WithComponent("consensus.journal")
	for _, idx := range indices {
		data, err := os.ReadFile(byIndex[idx])
		if err != nil {
			logger.Warn().Err(err).Uint64("index", idx).Msg("skipping unreadable journal entry on replay")
			continue
		}
		entry, err := decodeJournalEntry(data)
		if err != nil {
			logger.Warn().Err(err).Uint64("index", idx).Msg("skipping corrupt journal entry on replay")
			continue
		}
		j.enqueueLocked(entry, false)
		if idx >= j.nextIndex {
			j.nextIndex = idx + 1
		}
	}
	return nil
}

func decodeJournalEntry(data []byte) (*journalEntry, error) {
	var w journalEntryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	addr, err := block.AddressFromHex(w.Addr)
	if err != nil {
		return nil, err
	}
	entry := &journalEntry{Index: w.Index, Addr: addr, Raw: w.Raw, Mode: w.Mode}
	if len(w.ResolverData) > 0 {
		r, err := resolver.Unmarshal(w.ResolverData)
		if err != nil {
			return nil, err
		}
		entry.Resolver = r
	}
	return entry, nil
}

func encodeJournalEntry(e *journalEntry) ([]byte, error) {
	w := journalEntryWire{Index: e.Index, Addr: e.Addr.String(), Raw: e.Raw, Mode: e.Mode}
	if e.Resolver != nil {
		data, err := resolver.Marshal(e.Resolver)
		if err != nil {
			// Unmarshalable resolver (e.g. a Merge over an unsupported
			// kind): journal it as a plain write instead of failing the
			// whole enqueue, at the cost of losing squash replay for it.
			w.ResolverData = nil
		} else {
			w.ResolverData = data
		}
	}
	return json.Marshal(w)
}

func (j *AsyncJournal) spillPath(index uint64) string {
	return filepath.Join(j.dir, strconv.FormatUint(index, 10))
}

func (j *AsyncJournal) spill(e *journalEntry) {
	if j.dir == "" {
		return
	}
	data, err := encodeJournalEntry(e)
	if err != nil {
		return
	}
	_ = os.WriteFile(j.spillPath(e.Index), data, 0o644)
}

func (j *AsyncJournal) unspill(index uint64) {
	if j.dir == "" {
		return
	}
	_ = os.Remove(j.spillPath(index))
}

// enqueueLocked appends entry to the per-address and global queues,
// squashing it against the last pending entry for the same address when
// Squashable allows it. spillNew controls whether a freshly-squashed
// entry gets written to disk (false during replay, where it's already on
// disk under its original index).
func (j *AsyncJournal) enqueueLocked(entry *journalEntry, spillNew bool) {
	key := entry.Addr.String()
	pending := j.byAddr[key]

	if len(pending) > 0 && entry.Resolver != nil {
		last := pending[len(pending)-1]
		if last.Resolver != nil {
			outcome := last.Resolver.Squashable(entry.Resolver)
			if outcome != resolver.Stop && outcome != resolver.Skip {
				merged := &journalEntry{
					Index:    last.Index,
					Addr:     entry.Addr,
					Raw:      entry.Raw,
					Mode:     entry.Mode,
					Resolver: &resolver.Merge{First: last.Resolver, Second: entry.Resolver},
				}
				pending[len(pending)-1] = merged
				j.replaceInOrderLocked(last, merged)
				if spillNew {
					j.spill(merged)
				}
				return
			}
		}
	}

	if entry.Index == 0 && entry.Index != j.nextIndex {
		entry.Index = j.nextIndex
	}
	if entry.Index >= j.nextIndex {
		j.nextIndex = entry.Index + 1
	}
	j.byAddr[key] = append(pending, entry)
	j.order = append(j.order, entry)
	if spillNew {
		j.spill(entry)
	}
}

func (j *AsyncJournal) replaceInOrderLocked(old, newEntry *journalEntry) {
	for i, e := range j.order {
		if e == old {
			j.order[i] = newEntry
			return
		}
	}
}

func (j *AsyncJournal) wake() {
	select {
	case j.wakeup <- struct{}{}:
	default:
	}
}

// Store queues the write and returns immediately; the caller learns about
// a downstream failure only indirectly (via metrics/logs), consistent
// with "async". The journal has no flush method: a queued write reaches
// next only through the drain loop or the final pass in Close.
func (j *AsyncJournal) Store(ctx context.Context, addr block.Address, raw []byte, mode Mode, r resolver.Resolver) error {
	j.mu.Lock()
	entry := &journalEntry{Addr: addr, Raw: raw, Mode: mode, Resolver: r}
	j.enqueueLocked(entry, true)
	j.mu.Unlock()
	j.wake()
	return nil
}

// Remove is applied synchronously: deletions are rare enough, and
// destructive enough, that queuing them for later doesn't pay for itself.
func (j *AsyncJournal) Remove(ctx context.Context, addr block.Address, removeSignature []byte) error {
	return j.next.Remove(ctx, addr, removeSignature)
}

// Fetch checks the queue first: a pending write for addr wins over
// whatever next currently holds, per spec.md §4.4.1 ("Fetch: check the
// queue first, most recent op per address wins") and the read-your-writes
// guarantee in spec.md §5. Only once nothing is queued for addr does this
// fall through to next.
func (j *AsyncJournal) Fetch(ctx context.Context, addr block.Address, localVersion *uint32) (FetchResult, error) {
	entry := j.pendingEntry(addr)
	if entry == nil {
		return j.next.Fetch(ctx, addr, localVersion)
	}

	kind, _, err := block.PeekHeader(entry.Raw)
	if err != nil {
		return j.next.Fetch(ctx, addr, localVersion)
	}
	version, err := block.PeekVersion(entry.Raw)
	if err != nil {
		return j.next.Fetch(ctx, addr, localVersion)
	}
	if localVersion != nil && kind != block.KindCHB && *localVersion >= version {
		return FetchResult{}, nil
	}
	return FetchResult{Raw: entry.Raw, Kind: kind, Version: version}, nil
}

// pendingEntry returns the most recently queued entry for addr, if any.
// enqueueLocked appends (or squashes in place) so the last element of the
// per-address slice is always the most recent pending op.
func (j *AsyncJournal) pendingEntry(addr block.Address) *journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	pending := j.byAddr[addr.String()]
	if len(pending) == 0 {
		return nil
	}
	return pending[len(pending)-1]
}

func (j *AsyncJournal) Multifetch(ctx context.Context, addrs []block.Address) ([]FetchResultOrError, error) {
	out := make([]FetchResultOrError, len(addrs))
	for i, addr := range addrs {
		res, err := j.Fetch(ctx, addr, nil)
		out[i] = FetchResultOrError{Result: res, Err: err}
	}
	return out, nil
}

func (j *AsyncJournal) drainLoop() {
	defer j.wg.Done()
	logger := log.WithComponent("consensus.journal")
	timer := time.NewTimer(journalBaseBackoff)
	defer timer.Stop()

	for {
		select {
		case <-j.stopCh:
			j.flushOnce(logger)
			return
		case <-j.wakeup:
		case <-timer.C:
		}
		j.flushOnce(logger)
		timer.Reset(journalBaseBackoff)
	}
}

// flushOnce attempts every entry currently due, in FIFO order.
func (j *AsyncJournal) flushOnce(logger zerolog.Logger) {
	for {
		j.mu.Lock()
		if len(j.order) == 0 {
			j.mu.Unlock()
			return
		}
		entry := j.order[0]
		if !entry.nextAttemptAt.IsZero() && time.Now().Before(entry.nextAttemptAt) {
			j.mu.Unlock()
			return
		}
		j.mu.Unlock()

		err := j.next.Store(context.Background(), entry.Addr, entry.Raw, entry.Mode, entry.Resolver)

		j.mu.Lock()
		if err != nil {
			entry.attempts++
			backoff := journalBackoff.NextDelay(entry.attempts)
			entry.nextAttemptAt = time.Now().Add(backoff)
			logger.Warn().Err(err).Str("addr", entry.Addr.String()).Int("attempts", entry.attempts).Msg("journal store attempt failed, backing off")
			j.mu.Unlock()
			return
		}
		j.popFrontLocked(entry)
		j.mu.Unlock()
	}
}

func (j *AsyncJournal) popFrontLocked(entry *journalEntry) {
	key := entry.Addr.String()
	pending := j.byAddr[key]
	if len(pending) > 0 && pending[0] == entry {
		j.byAddr[key] = pending[1:]
		if len(j.byAddr[key]) == 0 {
			delete(j.byAddr, key)
		}
	}
	if len(j.order) > 0 && j.order[0] == entry {
		j.order = j.order[1:]
	}
	j.unspill(entry.Index)
}

// Close signals the drain loop to make one last pass and waits for it.
func (j *AsyncJournal) Close() error {
	close(j.stopCh)
	j.wg.Wait()
	return j.next.Close()
}
