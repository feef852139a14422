package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeFetcher serves fixed archive bytes for a set of known seq_nos and
// ErrArchiveNotFound for everything else, recording every Fetch call.
// missUntil makes a known seq_no report not-found for its first N
// fetches, simulating an archive that appears late.
type fakeFetcher struct {
	mu        sync.Mutex
	data      map[uint32][]byte
	missUntil map[uint32]int
	calls     []uint32
	delay     time.Duration
}

func newFakeFetcher(data map[uint32][]byte) *fakeFetcher {
	return &fakeFetcher{data: data}
}

func (f *fakeFetcher) Fetch(ctx context.Context, seqNo uint32, exclude string) ([]byte, string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, seqNo)
	if n, miss := f.missUntil[seqNo]; miss && n > 0 {
		f.missUntil[seqNo] = n - 1
		f.mu.Unlock()
		return nil, "", ErrArchiveNotFound
	}
	d, ok := f.data[seqNo]
	f.mu.Unlock()
	if !ok {
		return nil, "", ErrArchiveNotFound
	}
	return d, "peer-1", nil
}

func TestDownloader_DeliversInOrder(t *testing.T) {
	fetcher := newFakeFetcher(map[uint32][]byte{
		0:   []byte("a0"),
		100: []byte("a100"),
		200: []byte("a200"),
	})
	d := NewDownloader(fetcher, NewActivePeers(), 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, want := range [][]byte{[]byte("a0"), []byte("a100"), []byte("a200")} {
		data, _, err := d.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, data)
		d.Accept()
	}
}

func TestDownloader_NotFoundBlocksNextUntilDeadline(t *testing.T) {
	fetcher := newFakeFetcher(map[uint32][]byte{})
	d := NewDownloader(fetcher, NewActivePeers(), 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_, _, err := d.Next(ctx)
		require.Error(t, err)
		close(done)
	}()

	<-done

	fetcher.mu.Lock()
	calls := append([]uint32(nil), fetcher.calls...)
	fetcher.mu.Unlock()
	require.Contains(t, calls, uint32(0))
}

func TestDownloader_StopsAtUpperBound(t *testing.T) {
	fetcher := newFakeFetcher(map[uint32][]byte{0: []byte("a0")})
	upper := uint32(0)
	d := NewDownloader(fetcher, NewActivePeers(), 0, &upper)

	ctx := context.Background()
	data, seqNo, err := d.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(0), seqNo)
	require.Equal(t, []byte("a0"), data)
	d.Accept()

	_, _, err = d.Next(ctx)
	require.Error(t, err)
}
