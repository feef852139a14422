package cell

import "encoding/binary"

// HashesEntryLen is the fixed width of one HashesEntry record in the
// memory-mapped hashes scratchpad: level mask, type, hash count, depth
// count, the two subtree counters, four hashes and four depths.
const HashesEntryLen = 1 + 1 + 1 + 1 + 8 + 4 + 4*32 + 4*2

const (
	offLevelMask     = 0
	offCellType      = 1
	offHashCount     = 2
	offDepthCount    = 3
	offTreeBits      = 4
	offTreeCellCount = offTreeBits + 8
	offHashes        = offTreeCellCount + 4
	offDepths        = offHashes + 4*32
)

// HashesEntry is a fixed-size, offset-addressed view over one slot of
// the memory-mapped hashes file: a cell's level mask, type, per-level
// hashes/depths and the two running subtree counters, all the
// information a parent needs from an already-finalized child without
// holding a pointer to it.
type HashesEntry struct {
	buf []byte // exactly HashesEntryLen bytes, a slice into the mmap
}

// NewHashesEntry wraps buf (which must be HashesEntryLen bytes) as a
// HashesEntry view.
func NewHashesEntry(buf []byte) HashesEntry {
	return HashesEntry{buf: buf[:HashesEntryLen]}
}

func (e HashesEntry) LevelMask() LevelMask { return LevelMask(e.buf[offLevelMask]) }
func (e HashesEntry) SetLevelMask(m LevelMask) { e.buf[offLevelMask] = byte(m) }

func (e HashesEntry) CellType() Type     { return Type(e.buf[offCellType]) }
func (e HashesEntry) SetCellType(t Type) { e.buf[offCellType] = byte(t) }

func (e HashesEntry) HashCount() int      { return int(e.buf[offHashCount]) }
func (e HashesEntry) SetHashCount(n int)  { e.buf[offHashCount] = byte(n) }
func (e HashesEntry) DepthCount() int     { return int(e.buf[offDepthCount]) }
func (e HashesEntry) SetDepthCount(n int) { e.buf[offDepthCount] = byte(n) }

func (e HashesEntry) TreeBitsCount() uint64 {
	return binary.LittleEndian.Uint64(e.buf[offTreeBits:])
}
func (e HashesEntry) SetTreeBitsCount(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[offTreeBits:], v)
}

func (e HashesEntry) TreeCellCount() uint32 {
	return binary.LittleEndian.Uint32(e.buf[offTreeCellCount:])
}
func (e HashesEntry) SetTreeCellCount(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[offTreeCellCount:], v)
}

func (e HashesEntry) Hash(i int) Hash256 {
	var h Hash256
	copy(h[:], e.buf[offHashes+i*32:offHashes+i*32+32])
	return h
}

func (e HashesEntry) SetHash(i int, h Hash256) {
	copy(e.buf[offHashes+i*32:offHashes+i*32+32], h[:])
}

func (e HashesEntry) Depth(i int) uint16 {
	return binary.BigEndian.Uint16(e.buf[offDepths+i*2:])
}

func (e HashesEntry) SetDepth(i int, d uint16) {
	binary.BigEndian.PutUint16(e.buf[offDepths+i*2:], d)
}

// EntriesBuffer reserves N+1 non-overlapping HashesEntry slots: one
// "current" cell being finalized and up to MaxRefs "child" slots
// pointing at already-written rows of the mmap'd hashes file. Keeping
// the slots disjoint lets finalize_cell read every child and write the
// current entry without any aliasing.
type EntriesBuffer struct {
	current HashesEntry
	scratch [HashesEntryLen]byte
	childBuf [MaxRefs]HashesEntry
}

// NewEntriesBuffer allocates a buffer whose "current" slot is backed by
// its own private scratch array (not the mmap), so that writing it
// never races with any child slot drawn from the mmap.
func NewEntriesBuffer() *EntriesBuffer {
	eb := &EntriesBuffer{}
	eb.current = NewHashesEntry(eb.scratch[:])
	return eb
}

// Current returns the slot being assembled for the cell presently
// being finalized.
func (eb *EntriesBuffer) Current() HashesEntry { return eb.current }

// Reset clears the current slot's scratch memory before starting a new
// cell (children slots are rebound per-cell via SetChild, not reset,
// since they alias external mmap memory they don't own).
func (eb *EntriesBuffer) Reset() {
	for i := range eb.scratch {
		eb.scratch[i] = 0
	}
}

// SetChild binds child slot i to the mmap region belonging to the
// given child cell index.
func (eb *EntriesBuffer) SetChild(i int, raw []byte) {
	eb.childBuf[i] = NewHashesEntry(raw)
}

// Child returns the i-th child's already-finalized HashesEntry.
func (eb *EntriesBuffer) Child(i int) HashesEntry { return eb.childBuf[i] }

// RawBytes exposes the entry's backing bytes, used to rebind a slot to
// a different region of the mmap (EntriesBuffer.SetChild) or to copy a
// just-finalized entry into its own permanent slot.
func (e HashesEntry) RawBytes() []byte { return e.buf }

// HashAtClamped returns the hash at level, clamped to the entry's own
// HashCount the way TON aliases levels above a cell's defined range to
// its highest computed hash.
func (e HashesEntry) HashAtClamped(level int) Hash256 {
	hc := e.HashCount()
	if level >= hc {
		level = hc - 1
	}
	if level < 0 {
		level = 0
	}
	return e.Hash(level)
}

// DepthAtClamped is the depth-level analogue of HashAtClamped.
func (e HashesEntry) DepthAtClamped(level int) uint16 {
	dc := e.DepthCount()
	if level >= dc {
		level = dc - 1
	}
	if level < 0 {
		level = 0
	}
	return e.Depth(level)
}
