package roomlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// room is a single open room: its data file, its index file, and the
// in-memory offset table mirrored from the index. Only the append path
// mutates offsets, and it holds mu for the duration of the write so a
// record is never visible in the index before it is fully durable in the
// data file.
type room struct {
	mu      sync.Mutex
	name    string
	dataF   *os.File
	idxF    *os.File
	offsets []int64 // offsets[i] = byte offset of record i in dataF
}

func openRoom(dir, name string) (*room, error) {
	dataPath := filepath.Join(dir, name+".dat")
	idxPath := filepath.Join(dir, name+".idx")

	dataF, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("roomlog: open data file: %w", err)
	}

	offsets, rebuilt, err := loadOrRebuildIndex(dataF, idxPath)
	if err != nil {
		dataF.Close()
		return nil, err
	}

	idxF, err := os.OpenFile(idxPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		dataF.Close()
		return nil, fmt.Errorf("roomlog: open index file: %w", err)
	}
	if rebuilt {
		if err := rewriteIndex(idxF, offsets); err != nil {
			dataF.Close()
			idxF.Close()
			return nil, err
		}
	}

	return &room{name: name, dataF: dataF, idxF: idxF, offsets: offsets}, nil
}

// loadOrRebuildIndex reads R.idx if present and well-formed, otherwise
// rebuilds it by scanning R.dat and truncating any trailing partial
// record — the recovery path described in §4.3.
func loadOrRebuildIndex(dataF *os.File, idxPath string) ([]int64, bool, error) {
	idxBytes, err := os.ReadFile(idxPath)
	if err == nil {
		if len(idxBytes)%8 != 0 {
			return nil, false, fmt.Errorf("roomlog: corrupt index file %s: size %d not a multiple of 8", idxPath, len(idxBytes))
		}
		offsets := make([]int64, len(idxBytes)/8)
		for i := range offsets {
			offsets[i] = int64(binary.LittleEndian.Uint64(idxBytes[i*8:]))
		}
		return offsets, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("roomlog: read index file: %w", err)
	}

	offsets, err := rebuildIndexFromData(dataF)
	if err != nil {
		return nil, false, err
	}
	return offsets, true, nil
}

// rebuildIndexFromData scans dataF from the start, recording the offset
// of each well-formed record, and truncates any trailing partial record
// left by an unclean shutdown.
func rebuildIndexFromData(dataF *os.File) ([]int64, error) {
	if _, err := dataF.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	br := bufio.NewReader(dataF)

	var offsets []int64
	var pos int64
	for {
		_, n, err := readRecordAt(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Partial trailing record: truncate and stop, per §4.3/§7.
			if truncErr := dataF.Truncate(pos); truncErr != nil {
				return nil, fmt.Errorf("roomlog: truncate partial record: %w", truncErr)
			}
			break
		}
		offsets = append(offsets, pos)
		pos += int64(n)
	}
	if _, err := dataF.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return offsets, nil
}

func rewriteIndex(idxF *os.File, offsets []int64) error {
	if err := idxF.Truncate(0); err != nil {
		return err
	}
	if _, err := idxF.Seek(0, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, 8*len(offsets))
	for i, off := range offsets {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(off))
	}
	if _, err := idxF.Write(buf); err != nil {
		return err
	}
	return idxF.Sync()
}

// append writes rec to the data file, records its offset in the index
// file, and returns the assigned (pre-append-count) index. A record is
// added to the offset table, and therefore becomes visible to get/count,
// only after both writes have succeeded.
func (rm *room) append(rec Record) (int64, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	offset, err := rm.dataF.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("roomlog: seek data file: %w", err)
	}
	if _, err := rm.dataF.Write(rec.marshal()); err != nil {
		return 0, fmt.Errorf("roomlog: write record: %w", err)
	}
	if err := rm.dataF.Sync(); err != nil {
		return 0, fmt.Errorf("roomlog: sync data file: %w", err)
	}

	var offBuf [8]byte
	binary.LittleEndian.PutUint64(offBuf[:], uint64(offset))
	if _, err := rm.idxF.Seek(0, io.SeekEnd); err != nil {
		return 0, fmt.Errorf("roomlog: seek index file: %w", err)
	}
	if _, err := rm.idxF.Write(offBuf[:]); err != nil {
		return 0, fmt.Errorf("roomlog: write index entry: %w", err)
	}
	if err := rm.idxF.Sync(); err != nil {
		return 0, fmt.Errorf("roomlog: sync index file: %w", err)
	}

	index := int64(len(rm.offsets))
	rm.offsets = append(rm.offsets, offset)
	return index, nil
}

// get reads the record at index i, or reports ok == false if i is out of
// range.
func (rm *room) get(i int64) (Record, bool, error) {
	rm.mu.Lock()
	if i < 0 || i >= int64(len(rm.offsets)) {
		rm.mu.Unlock()
		return Record{}, false, nil
	}
	offset := rm.offsets[i]
	rm.mu.Unlock()

	sr := io.NewSectionReader(rm.dataF, offset, 1<<31-1)
	rec, _, err := readRecordAt(sr)
	if err != nil {
		return Record{}, false, fmt.Errorf("roomlog: read record %d: %w", i, err)
	}
	return rec, true, nil
}

func (rm *room) count() int64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return int64(len(rm.offsets))
}

func (rm *room) close() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	err1 := rm.dataF.Close()
	err2 := rm.idxF.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
