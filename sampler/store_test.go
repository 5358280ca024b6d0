package sampler

import (
	"runtime"
	"sync"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

func snapAt(seconds int, values map[string]float64) *Snapshot {
	return NewSnapshot(epoch.Add(time.Duration(seconds)*time.Second), values)
}

func TestStorePushDemotesCurrent(t *testing.T) {
	s := NewStore()
	cur, prev := s.Load()
	require.Nil(t, cur)
	require.Nil(t, prev)
	require.True(t, s.CapturedAt().IsZero())

	first := snapAt(1, map[string]float64{"a": 1})
	second := snapAt(2, map[string]float64{"a": 2})
	require.True(t, s.Push(first))
	require.True(t, s.Push(second))

	cur, prev = s.Load()
	require.Same(t, second, cur)
	require.Same(t, first, prev)
	require.Equal(t, second.CapturedAt, s.CapturedAt())
}

func TestStoreRejectsOlderSnapshots(t *testing.T) {
	s := NewStore()
	require.True(t, s.Push(snapAt(5, nil)))
	require.False(t, s.Push(snapAt(5, nil)))
	require.False(t, s.Push(snapAt(3, nil)))
	require.False(t, s.Push(nil))

	_, prev := s.Load()
	require.Nil(t, prev)
}

func TestSnapshotIsImmutable(t *testing.T) {
	src := map[string]float64{"a": 1}
	snap := NewSnapshot(epoch, src)
	src["a"] = 2
	src["b"] = 3

	v, ok := snap.Value("a")
	require.True(t, ok)
	require.Equal(t, 1.0, v)
	require.Equal(t, 1, snap.Len())

	copied := snap.Values()
	copied["a"] = 10
	v, _ = snap.Value("a")
	require.Equal(t, 1.0, v)

	var empty *Snapshot
	_, ok = empty.Value("a")
	require.False(t, ok)
	require.Empty(t, empty.Names())
	require.Empty(t, empty.Values())
}

// Every generation g carries {"gen": g} and is captured at epoch+g seconds,
// so a consistent pair always has previous.gen == current.gen-1.
func TestStorePairIsNeverTorn(t *testing.T) {
	f := fuzz.New().NilChance(0)
	for round := 0; round < 20; round++ {
		var readers, pushes uint8
		f.Fuzz(&readers)
		f.Fuzz(&pushes)
		nReaders := int(readers%8) + 1
		nPushes := int(pushes) + 50

		s := NewStore()
		var wg sync.WaitGroup
		stop := make(chan struct{})
		failures := make(chan string, nReaders)

		for r := 0; r < nReaders; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					cur, prev := s.Load()
					if cur == nil || prev == nil {
						runtime.Gosched()
						continue
					}
					c, _ := cur.Value("gen")
					p, _ := prev.Value("gen")
					if p != c-1 || !prev.CapturedAt.Before(cur.CapturedAt) {
						failures <- "torn pair observed"
						return
					}
				}
			}()
		}

		for g := 1; g <= nPushes; g++ {
			require.True(t, s.Push(snapAt(g, map[string]float64{"gen": float64(g)})))
			if g%7 == 0 {
				runtime.Gosched()
			}
		}
		close(stop)
		wg.Wait()
		close(failures)
		for msg := range failures {
			t.Fatal(msg)
		}
	}
}

func TestIsStale(t *testing.T) {
	require.True(t, IsStale(time.Time{}, epoch, time.Minute))

	require.False(t, IsStale(epoch, epoch.Add(30*time.Second), time.Minute))
	require.False(t, IsStale(epoch, epoch.Add(time.Minute), time.Minute))
	require.True(t, IsStale(epoch, epoch.Add(time.Minute+time.Millisecond), time.Minute))
	require.True(t, IsStale(epoch, epoch, 0))
	require.True(t, IsStale(epoch, epoch, -time.Second))
}
