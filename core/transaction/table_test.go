package transaction

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransactionTable_BeginIssuesSequentialIDs(t *testing.T) {
	table := NewTransactionTable()

	require.Equal(t, Xid(1), table.PeekNextXid())
	require.Equal(t, Xid(1), table.Begin())
	require.Equal(t, Xid(2), table.Begin())
	require.Equal(t, Xid(3), table.PeekNextXid())
	require.Equal(t, Xid(3), table.PeekNextXid(), "peeking must not consume an id")
	require.Equal(t, 2, table.ActiveCount())
}

// TestTransactionTable_ConcurrentBeginHasNoGaps checks that n concurrent Begin
// calls issue exactly the ids 1..n.
func TestTransactionTable_ConcurrentBeginHasNoGaps(t *testing.T) {
	const workers, perWorker = 16, 500
	table := NewTransactionTable()

	var (
		mu  sync.Mutex
		ids []Xid
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]Xid, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				xid := table.Begin()
				local = append(local, xid)
				if i%2 == 0 {
					table.End(xid)
				}
			}
			mu.Lock()
			ids = append(ids, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	require.Len(t, ids, workers*perWorker)
	for i, xid := range ids {
		require.Equal(t, Xid(i+1), xid)
	}
	require.Equal(t, workers*perWorker/2, table.ActiveCount())
}

func TestTransactionTable_EndUnknownIsNoop(t *testing.T) {
	table := NewTransactionTable()
	xid := table.Begin()

	table.End(42)
	table.End(xid)
	table.End(xid)

	_, ok := table.OldestActive()
	require.False(t, ok)
	require.Equal(t, 0, table.ActiveCount())
}

// TestTransactionTable_OldestActiveMatchesModel drives random begin/end
// sequences and compares OldestActive against a plain map.
func TestTransactionTable_OldestActiveMatchesModel(t *testing.T) {
	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	t.Logf("seed %d", seed)

	for round := 0; round < 50; round++ {
		table := NewTransactionTable()
		model := map[Xid]struct{}{}

		for step := 0; step < 400; step++ {
			if len(model) == 0 || rng.Intn(3) > 0 {
				model[table.Begin()] = struct{}{}
			} else {
				victim := pickAny(rng, model)
				delete(model, victim)
				table.End(victim)
			}

			oldest, ok := table.OldestActive()
			want, wantOK := modelMin(model)
			require.Equal(t, wantOK, ok)
			if ok {
				require.Equal(t, want, oldest)
			}
		}
	}
}

func TestTransactionTable_OldestActiveUnderConcurrency(t *testing.T) {
	table := NewTransactionTable()
	pinned := table.Begin()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				table.End(table.Begin())
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		oldest, ok := table.OldestActive()
		require.True(t, ok)
		require.Equal(t, pinned, oldest)
	}
	close(stop)
	wg.Wait()

	table.End(pinned)
	_, ok := table.OldestActive()
	require.False(t, ok)
}

// TestTransactionTable_BarrierSoundness: begin A, begin B, end A, stamp the
// barrier at 3. The wait must block while B (xid 2) is active.
func TestTransactionTable_BarrierSoundness(t *testing.T) {
	table := NewTransactionTable()
	a := table.Begin()
	b := table.Begin()
	table.End(a)

	barrier := table.PeekNextXid()
	require.Equal(t, Xid(3), barrier)
	require.False(t, table.Quiescent(barrier))

	done := make(chan error, 1)
	go func() {
		done <- table.WaitQuiescent(context.Background(), barrier, time.Millisecond, nil)
	}()

	select {
	case <-done:
		t.Fatal("wait returned while xid 2 was still active")
	case <-time.After(50 * time.Millisecond):
	}

	// Transactions started after the stamp do not hold the barrier.
	late := table.Begin()
	require.GreaterOrEqual(t, late, barrier)

	table.End(b)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the last pre-barrier transaction ended")
	}
	table.End(late)
}

// TestTransactionTable_BarrierSoundnessUnderConcurrentBegin stamps barriers
// while workers keep starting transactions. No worker may still hold an id
// below a barrier whose wait has already returned.
func TestTransactionTable_BarrierSoundnessUnderConcurrentBegin(t *testing.T) {
	const workers, rounds = 8, 2000
	table := NewTransactionTable()

	var (
		passed     atomic.Uint64
		violations atomic.Int64
		stop       atomic.Bool
		wg         sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				xid := table.Begin()
				if uint64(xid) < passed.Load() {
					violations.Add(1)
				}
				table.End(xid)
			}
		}()
	}

	ctx := context.Background()
	for i := 0; i < rounds; i++ {
		barrier := table.PeekNextXid()
		require.NoError(t, table.WaitQuiescent(ctx, barrier, time.Millisecond, nil))
		passed.Store(uint64(barrier))
	}
	stop.Store(true)
	wg.Wait()

	require.Zero(t, violations.Load(), "transactions below a passed barrier were still active")
}

func TestTransactionTable_WaitQuiescentReportsTicks(t *testing.T) {
	table := NewTransactionTable()
	xid := table.Begin()

	var (
		mu    sync.Mutex
		ticks []Xid
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := table.WaitQuiescent(ctx, table.PeekNextXid(), time.Millisecond, func(oldest Xid) {
		mu.Lock()
		ticks = append(ticks, oldest)
		mu.Unlock()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, ticks)
	require.Equal(t, xid, ticks[0])
}

func TestTransactionTable_Advance(t *testing.T) {
	table := NewTransactionTable()
	table.Advance(41)
	require.Equal(t, Xid(42), table.Begin())

	table.Advance(10)
	require.Equal(t, Xid(43), table.PeekNextXid(), "advance never moves backwards")
}

func TestCheckpointPhase_Cycle(t *testing.T) {
	p := PhaseRest
	var seen []CheckpointPhase
	for i := 0; i < len(Phases)*2; i++ {
		seen = append(seen, p)
		p = p.Next()
	}
	require.Equal(t, append(append([]CheckpointPhase{}, Phases...), Phases...), seen)

	require.False(t, CheckpointPhase(0).Valid())
	require.False(t, CheckpointPhase(6).Valid())
	require.Equal(t, "CAPTURE", PhaseCapture.String())
	require.Equal(t, "PHASE(9)", CheckpointPhase(9).String())
}

func pickAny(rng *rand.Rand, m map[Xid]struct{}) Xid {
	keys := make([]Xid, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys[rng.Intn(len(keys))]
}

func modelMin(m map[Xid]struct{}) (Xid, bool) {
	var (
		lowest Xid
		ok     bool
	)
	for k := range m {
		if !ok || k < lowest {
			lowest, ok = k, true
		}
	}
	return lowest, ok
}
