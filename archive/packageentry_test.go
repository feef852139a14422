package archive

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/tonstate/common"
)

func mkBlockID(seqNo uint32, mc bool) common.BlockID {
	shard := common.ShardIdent{WorkchainID: 0, ShardTag: common.FullShardID}
	if mc {
		shard = common.MasterchainShard
	}
	var id common.BlockID
	id.Shard = shard
	id.SeqNo = seqNo
	id.RootHash[0] = byte(seqNo)
	id.FileHash[0] = byte(seqNo + 1)
	return id
}

func TestPackageEntryId_FilenameRoundTrip(t *testing.T) {
	for _, e := range []PackageEntryId{
		BlockEntryId(mkBlockID(1, true)),
		ProofEntryId(mkBlockID(1, true)),
		ProofLinkEntryId(mkBlockID(2, false)),
	} {
		got, err := ParsePackageEntryId(e.Filename())
		require.NoError(t, err)
		require.Equal(t, e, got)
	}
}

func TestParsePackageEntryId_RejectsBadInput(t *testing.T) {
	_, err := ParsePackageEntryId([]byte{0x00, 0x01})
	require.Error(t, err)

	name := BlockEntryId(mkBlockID(1, true)).Filename()
	name[0] = 0xFF
	_, err = ParsePackageEntryId(name)
	require.Error(t, err)
}

func TestWritePackage_RoundTripsThroughReader(t *testing.T) {
	entries := []Entry{
		{Name: BlockEntryId(mkBlockID(1, true)).Filename(), Data: []byte("block-1")},
		{Name: ProofEntryId(mkBlockID(1, true)).Filename(), Data: []byte("proof-1")},
		{Name: BlockEntryId(mkBlockID(10, false)).Filename(), Data: []byte("shard-block")},
	}
	raw := WritePackage(entries)

	r := NewPackageReader(raw)
	var got []Entry
	for {
		e, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, Entry{Name: append([]byte(nil), e.Name...), Data: append([]byte(nil), e.Data...)})
	}
	require.Equal(t, entries, got)
}

func TestPackageReader_TruncatedPackageErrors(t *testing.T) {
	raw := WritePackage([]Entry{{Name: []byte("x"), Data: []byte("y")}})
	r := NewPackageReader(raw[:len(raw)-1])
	_, _, err := r.Next()
	require.Error(t, err)
}
