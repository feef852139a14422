package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/tonstate/blockindex"
	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/kv"
)

// countingStatus reports synced once the applier has seen n blocks.
type countingStatus struct {
	applier *fakeApplier
	n       int
}

func (s *countingStatus) IsSynced() bool {
	s.applier.mu.Lock()
	defer s.applier.mu.Unlock()
	return len(s.applier.applied) >= s.n
}

func mcPackage(seqNos ...uint32) []byte {
	var entries []Entry
	for _, s := range seqNos {
		entries = append(entries, Entry{
			Name: BlockEntryId(mkBlockID(s, true)).Filename(),
			Data: []byte{byte(s)},
		})
	}
	return WritePackage(entries)
}

func TestLiveSync_AppliesArchivesUntilSynced(t *testing.T) {
	index, err := blockindex.New(kv.NewMemDatabase())
	require.NoError(t, err)

	applier := &fakeApplier{shardRefs: map[common.BlockID][]common.BlockID{}}
	importer := NewImporter(index, applier, nil)

	fetcher := newFakeFetcher(map[uint32][]byte{
		0:   mcPackage(1),
		100: mcPackage(2),
	})
	status := &countingStatus{applier: applier, n: 2}

	db := kv.NewMemDatabase()
	sync := NewLiveSync(importer, fetcher, status).WithStorage(NewStorage(db))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sync.Run(ctx, 0))

	require.Equal(t, []common.BlockID{mkBlockID(1, true), mkBlockID(2, true)}, applier.applied)

	// Accepted slices were persisted with the archive prefix stripped on
	// the way back out.
	stored, err := NewStorage(db).Load(0)
	require.NoError(t, err)
	require.Equal(t, mcPackage(1), stored)
}

func TestLiveSync_FailedApplyIsRescheduled(t *testing.T) {
	index, err := blockindex.New(kv.NewMemDatabase())
	require.NoError(t, err)

	// The first apply of block 1 fails; the slice must be fetched and
	// applied again rather than skipped.
	applier := &fakeApplier{
		shardRefs: map[common.BlockID][]common.BlockID{},
		failOn:    mkBlockID(1, true),
		failOnce:  true,
	}
	importer := NewImporter(index, applier, nil)

	fetcher := newFakeFetcher(map[uint32][]byte{0: mcPackage(1)})
	status := &countingStatus{applier: applier, n: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, NewLiveSync(importer, fetcher, status).Run(ctx, 0))
	require.Equal(t, []common.BlockID{mkBlockID(1, true)}, applier.applied)
}

func TestStorage_MergePrependsPrefixOnce(t *testing.T) {
	s := NewStorage(kv.NewMemDatabase())

	require.NoError(t, s.AppendFragment(300, []byte("abc")))
	require.NoError(t, s.AppendFragment(300, []byte("def")))

	got, err := s.Load(300)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdef"), got)
}

// TestDownloader_GapRetriedWhenLaterSliceDownloaded: a NotFound at
// seq_no 100 must be reissued as soon as a later slice (200) is parked
// as downloaded, because data beyond the gap proves the gap is
// transient.
func TestDownloader_GapRetriedWhenLaterSliceDownloaded(t *testing.T) {
	fetcher := newFakeFetcher(map[uint32][]byte{
		0:   []byte("a0"),
		100: []byte("a100"),
		200: []byte("a200"),
	})
	fetcher.missUntil = map[uint32]int{100: 2}

	d := NewDownloader(fetcher, NewActivePeers(), 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, want := range [][]byte{[]byte("a0"), []byte("a100"), []byte("a200")} {
		data, _, err := d.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, data)
		d.Accept()
	}

	fetcher.mu.Lock()
	n := 0
	for _, c := range fetcher.calls {
		if c == 100 {
			n++
		}
	}
	fetcher.mu.Unlock()
	require.GreaterOrEqual(t, n, 2)
}
