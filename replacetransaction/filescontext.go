package replacetransaction

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/edsrzf/mmap-go"

	"github.com/ledgerwatch/tonstate/cell"
	"github.com/ledgerwatch/tonstate/log"
)

// filesContext owns the two spill files for the duration of one
// ingestion and deletes them on success or abort:
// "cells" accumulates self-delimiting, chunked stored-cell records
// during the forward pass; "hashes" is allocated and mmap'd once the
// cell count is known, sized cellCount*HashesEntryLen, and used as an
// indexed scratchpad during the backward pass.
type filesContext struct {
	cellsFile *os.File
	cellsPath string

	hashesFile *os.File
	hashesPath string

	currentChunkLen uint32
	cellCount       uint32

	log *log.Logger
}

func newFilesContext(dir string) (*filesContext, error) {
	cellsFile, err := os.CreateTemp(dir, "replace-tx-cells-*")
	if err != nil {
		return nil, err
	}
	fc := &filesContext{
		cellsFile: cellsFile,
		cellsPath: cellsFile.Name(),
		log:       log.New("component", "replacetransaction"),
	}
	return fc, nil
}

// writeRecord appends one stored-cell record followed by a single byte
// holding its length, making the record self-delimiting from the tail.
func (fc *filesContext) writeRecord(rec []byte) error {
	if len(rec) > maxRecordLen {
		return fmt.Errorf("%w: record of %d bytes exceeds scratch buffer", ErrInvalidCell, len(rec))
	}
	if _, err := fc.cellsFile.Write(rec); err != nil {
		return err
	}
	if _, err := fc.cellsFile.Write([]byte{byte(len(rec))}); err != nil {
		return err
	}
	fc.currentChunkLen += uint32(len(rec)) + 1
	return nil
}

// endChunk appends the u32 little-endian chunk byte-length trailer
// that groups the records written since the previous endChunk call.
func (fc *filesContext) endChunk() error {
	if fc.currentChunkLen == 0 {
		return nil
	}
	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], fc.currentChunkLen)
	if _, err := fc.cellsFile.Write(trailer[:]); err != nil {
		return err
	}
	fc.log.Debug("spilled chunk", "bytes", datasize.ByteSize(fc.currentChunkLen).HumanReadable())
	fc.currentChunkLen = 0
	return nil
}

// prepareHashesFile allocates the hashes spill file sized
// cellCount*HashesEntryLen and opens it for mmap access.
func (fc *filesContext) prepareHashesFile(dir string, cellCount uint32) error {
	fc.cellCount = cellCount
	hf, err := os.CreateTemp(dir, "replace-tx-hashes-*")
	if err != nil {
		return err
	}
	size := int64(cellCount) * int64(cell.HashesEntryLen)
	if size == 0 {
		size = int64(cell.HashesEntryLen)
	}
	if err := hf.Truncate(size); err != nil {
		hf.Close()
		return err
	}
	fc.hashesFile = hf
	fc.hashesPath = hf.Name()
	return nil
}

// mmapState is the pair of memory-mapped views used during finalize.
type mmapState struct {
	cells  mmap.MMap
	hashes mmap.MMap
}

// mmapForFinalize flushes and syncs both spill files, then maps them
// for the backward pass. The cells file is mapped read-only (it is
// only ever walked backward); the hashes file is mapped read-write (it
// is both read-from for children and written-to for the current
// cell).
func (fc *filesContext) mmapForFinalize() (*mmapState, error) {
	if err := fc.endChunk(); err != nil {
		return nil, err
	}
	if err := fc.cellsFile.Sync(); err != nil {
		return nil, err
	}
	cellsMap, err := mmap.Map(fc.cellsFile, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	hashesMap, err := mmap.Map(fc.hashesFile, mmap.RDWR, 0)
	if err != nil {
		cellsMap.Unmap()
		return nil, err
	}
	return &mmapState{cells: cellsMap, hashes: hashesMap}, nil
}

// hashesEntryAt returns the HashesEntry view for the given global cell
// index into the mapped hashes file.
func (m *mmapState) hashesEntryAt(index uint32) cell.HashesEntry {
	off := int64(index) * int64(cell.HashesEntryLen)
	return cell.NewHashesEntry(m.hashes[off : off+int64(cell.HashesEntryLen)])
}

func (m *mmapState) unmap() {
	if m == nil {
		return
	}
	m.cells.Unmap()
	m.hashes.Unmap()
}

// cleanup removes both spill files, on success and abort alike.
func (fc *filesContext) cleanup() {
	fc.cellsFile.Close()
	if fc.cellsPath != "" {
		os.Remove(fc.cellsPath)
	}
	if fc.hashesFile != nil {
		fc.hashesFile.Close()
	}
	if fc.hashesPath != "" {
		os.Remove(fc.hashesPath)
	}
}
