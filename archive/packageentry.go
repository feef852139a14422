package archive

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerwatch/tonstate/common"
)

// entryKind tags a PackageEntryId's filename.
type entryKind byte

const (
	entryKindBlock entryKind = iota
	entryKindProof
	entryKindProofLink
)

// PackageEntryId names one archive package entry: a Block, a Proof
// (masterchain only; non-masterchain proofs are ignored), or a
// ProofLink (shard blocks only — masterchain ProofLinks are ignored).
type PackageEntryId struct {
	Kind    entryKind
	BlockID common.BlockID
}

// BlockEntryId builds a Block-variant entry id.
func BlockEntryId(id common.BlockID) PackageEntryId {
	return PackageEntryId{Kind: entryKindBlock, BlockID: id}
}

// ProofEntryId builds a Proof-variant entry id (masterchain blocks
// only — callers must not encode one for a shard block).
func ProofEntryId(id common.BlockID) PackageEntryId {
	return PackageEntryId{Kind: entryKindProof, BlockID: id}
}

// ProofLinkEntryId builds a ProofLink-variant entry id (shard blocks
// only).
func ProofLinkEntryId(id common.BlockID) PackageEntryId {
	return PackageEntryId{Kind: entryKindProofLink, BlockID: id}
}

// Filename encodes the entry id as the archive-package entry name:
// one kind byte followed by the BlockID's fixed-width bytes.
func (e PackageEntryId) Filename() []byte {
	b := make([]byte, 1+common.BlockIDSize)
	b[0] = byte(e.Kind)
	copy(b[1:], e.BlockID.Bytes())
	return b
}

// ParsePackageEntryId is the inverse of Filename.
func ParsePackageEntryId(name []byte) (PackageEntryId, error) {
	if len(name) != 1+common.BlockIDSize {
		return PackageEntryId{}, fmt.Errorf("archive: bad package entry filename length %d", len(name))
	}
	kind := entryKind(name[0])
	if kind != entryKindBlock && kind != entryKindProof && kind != entryKindProofLink {
		return PackageEntryId{}, fmt.Errorf("archive: unknown package entry kind %d", name[0])
	}
	id, err := common.ParseBlockID(name[1:])
	if err != nil {
		return PackageEntryId{}, err
	}
	return PackageEntryId{Kind: kind, BlockID: id}, nil
}

// Entry is one framed (filename, data) pair inside an archive package
//.
type Entry struct {
	Name []byte
	Data []byte
}

// WritePackage frames entries as a sequence of
// [u16 LE name length][name][u32 LE data length][data], a minimal
// self-delimiting layout.
func WritePackage(entries []Entry) []byte {
	size := 0
	for _, e := range entries {
		size += 2 + len(e.Name) + 4 + len(e.Data)
	}
	out := make([]byte, 0, size)
	for _, e := range entries {
		var nameLen [2]byte
		binary.LittleEndian.PutUint16(nameLen[:], uint16(len(e.Name)))
		out = append(out, nameLen[:]...)
		out = append(out, e.Name...)
		var dataLen [4]byte
		binary.LittleEndian.PutUint32(dataLen[:], uint32(len(e.Data)))
		out = append(out, dataLen[:]...)
		out = append(out, e.Data...)
	}
	return out
}

// PackageReader iterates the framed entries written by WritePackage.
type PackageReader struct {
	data []byte
	pos  int
}

// NewPackageReader wraps a raw archive-package blob for iteration.
func NewPackageReader(data []byte) *PackageReader {
	return &PackageReader{data: data}
}

// Next returns the next entry, or ok=false once the package is
// exhausted.
func (r *PackageReader) Next() (Entry, bool, error) {
	if r.pos >= len(r.data) {
		return Entry{}, false, nil
	}
	if r.pos+2 > len(r.data) {
		return Entry{}, false, fmt.Errorf("archive: truncated entry header")
	}
	nameLen := int(binary.LittleEndian.Uint16(r.data[r.pos:]))
	r.pos += 2
	if r.pos+nameLen+4 > len(r.data) {
		return Entry{}, false, fmt.Errorf("archive: truncated entry name/length")
	}
	name := r.data[r.pos : r.pos+nameLen]
	r.pos += nameLen
	dataLen := int(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	if r.pos+dataLen > len(r.data) {
		return Entry{}, false, fmt.Errorf("archive: truncated entry data")
	}
	data := r.data[r.pos : r.pos+dataLen]
	r.pos += dataLen
	return Entry{Name: name, Data: data}, true, nil
}
