// Package regionfile implements the on-disk Anvil-style region format
// (§4.I): an 8 KiB header of location and timestamp tables, 4 KiB sectors,
// and external-spill ".mcc" files for chunks too large to represent in a
// single byte's sector count.
package regionfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	sectorSize        = 4096
	headerSectors     = 2
	headerSize        = headerSectors * sectorSize
	chunksPerRegion   = 32
	locationCount     = chunksPerRegion * chunksPerRegion
	maxInternalTotal  = 1020 * 1024 // 5-byte header + payload, per §4.I
	placeholderLength = 1
)

// location is one 4-byte entry of the location table: 3 big-endian bytes
// of sector offset, 1 byte of sector count. Offset 0 with count 0 means
// absent. The count byte's high bit (externalFlag) is the external-storage
// flag (§3, §4.I); the remaining 7 bits hold the actual sector count, so a
// single internal record can span at most 127 sectors.
type location struct {
	Offset   uint32
	Count    uint8
	External bool
}

func (l location) empty() bool { return l.Offset == 0 && l.Count == 0 && !l.External }

func (l location) countByte() uint8 {
	b := l.Count & kindMask
	if l.External {
		b |= externalFlag
	}
	return b
}

func locationFromCountByte(offset uint32, raw uint8) location {
	return location{Offset: offset, Count: raw & kindMask, External: raw&externalFlag != 0}
}

// RegionFile is one open `.mca` file plus its parsed header tables.
type RegionFile struct {
	mu   sync.Mutex
	path string
	dir  string
	rx   int32
	rz   int32
	file *os.File

	locations  [locationCount]location
	timestamps [locationCount]uint32
	nextSector uint32
}

// fileName returns the canonical name for a region at (rx, rz).
func fileName(rx, rz int32) string {
	return fmt.Sprintf("r.%d.%d.mca", rx, rz)
}

// ParseFileName extracts the region coordinates from a `r.<x>.<z>.mca`
// file name.
func ParseFileName(name string) (rx, rz int32, err error) {
	var x, z int
	if _, err := fmt.Sscanf(name, "r.%d.%d.mca", &x, &z); err != nil {
		return 0, 0, fmt.Errorf("regionfile: invalid region file name %q: %w", name, err)
	}
	return int32(x), int32(z), nil
}

// Open opens (creating if absent) the region file for (rx, rz) under dir.
func Open(dir string, rx, rz int32) (*RegionFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("regionfile: creating region dir: %w", err)
	}
	path := filepath.Join(dir, fileName(rx, rz))

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("regionfile: opening %s: %w", path, err)
	}

	r := &RegionFile{path: path, dir: dir, rx: rx, rz: rz, file: f}
	if err := r.readOrInitHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *RegionFile) readOrInitHeader() error {
	info, err := r.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < headerSize {
		if err := r.file.Truncate(headerSize); err != nil {
			return err
		}
		r.nextSector = headerSectors
		return nil
	}

	buf := make([]byte, headerSize)
	if _, err := r.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("regionfile: reading header: %w", err)
	}
	maxEnd := uint32(headerSectors)
	for i := 0; i < locationCount; i++ {
		off := i * 4
		raw := binary.BigEndian.Uint32(buf[off : off+4])
		loc := locationFromCountByte(raw>>8, uint8(raw))
		r.locations[i] = loc
		if !loc.empty() {
			if end := loc.Offset + uint32(loc.Count); end > maxEnd {
				maxEnd = end
			}
		}
		tsOff := sectorSize + i*4
		r.timestamps[i] = binary.BigEndian.Uint32(buf[tsOff : tsOff+4])
	}
	r.nextSector = maxEnd
	return nil
}

func (r *RegionFile) writeHeader() error {
	buf := make([]byte, headerSize)
	for i, loc := range r.locations {
		off := i * 4
		raw := (loc.Offset << 8) | uint32(loc.countByte())
		binary.BigEndian.PutUint32(buf[off:off+4], raw)
		tsOff := sectorSize + i*4
		binary.BigEndian.PutUint32(buf[tsOff:tsOff+4], r.timestamps[i])
	}
	if _, err := r.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("regionfile: writing header: %w", err)
	}
	return nil
}

func localIndex(globalX, globalZ int32) int {
	lx := int(((globalX % chunksPerRegion) + chunksPerRegion) % chunksPerRegion)
	lz := int(((globalZ % chunksPerRegion) + chunksPerRegion) % chunksPerRegion)
	return lx + lz*chunksPerRegion
}

func (r *RegionFile) mccPath(globalX, globalZ int32) string {
	return filepath.Join(r.dir, fmt.Sprintf("c.%d.%d.mcc", globalX, globalZ))
}

// GetChunk returns the decompressed chunk payload at the given global
// chunk coordinates, or ok=false if absent (§4.I "Get chunk").
func (r *RegionFile) GetChunk(globalX, globalZ int32) (data []byte, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := localIndex(globalX, globalZ)
	loc := r.locations[idx]
	if loc.empty() {
		return nil, false, nil
	}

	if loc.External {
		payload, kind, err := r.readExternal(globalX, globalZ)
		if err != nil {
			return nil, false, err
		}
		out, err := decompress(kind, payload)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	}

	block := make([]byte, int(loc.Count)*sectorSize)
	if _, err := r.file.ReadAt(block, int64(loc.Offset)*sectorSize); err != nil {
		return nil, false, fmt.Errorf("regionfile: reading chunk sectors: %w", err)
	}
	if len(block) < 5 {
		return nil, false, fmt.Errorf("regionfile: truncated chunk header at index %d", idx)
	}
	length := binary.BigEndian.Uint32(block[0:4])
	compKind := block[4]

	if int(length) == 0 || 5+int(length) > len(block) {
		return nil, false, fmt.Errorf("regionfile: corrupt chunk length at index %d", idx)
	}
	payload := block[5 : 5+length]
	out, err := decompress(compKind, payload)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (r *RegionFile) readExternal(globalX, globalZ int32) ([]byte, byte, error) {
	data, err := os.ReadFile(r.mccPath(globalX, globalZ))
	if err != nil {
		return nil, 0, fmt.Errorf("regionfile: reading external chunk file: %w", err)
	}
	if len(data) < 5+5 {
		return nil, 0, fmt.Errorf("regionfile: truncated external chunk file")
	}
	body := data[5:]
	length := binary.BigEndian.Uint32(body[0:4])
	kind := body[4]
	if 5+int(length) > len(body) {
		return nil, 0, fmt.Errorf("regionfile: corrupt external chunk length")
	}
	return body[5 : 5+length], kind, nil
}

// PutChunk compresses data under kind and stores it at the given global
// chunk coordinates, spilling to an external .mcc file when the total
// on-disk record would exceed 1020 KiB (§4.I "Put chunk").
func (r *RegionFile) PutChunk(globalX, globalZ int32, data []byte, kind byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	compressed, err := compress(kind, data)
	if err != nil {
		return err
	}

	idx := localIndex(globalX, globalZ)
	total := 5 + len(compressed)

	if total > maxInternalTotal {
		if err := r.writeExternal(globalX, globalZ, compressed, kind); err != nil {
			return err
		}
		if err := r.writePlaceholder(idx); err != nil {
			return err
		}
	} else {
		os.Remove(r.mccPath(globalX, globalZ))
		if err := r.writeInternal(idx, compressed, kind); err != nil {
			return err
		}
	}

	r.timestamps[idx] = uint32(time.Now().Unix())
	return r.writeHeader()
}

// writeInternal allocates sectorCount sectors by always appending at EOF
// (§4.I's stated "known-suboptimal but correct policy" — no free-list
// recycling of sectors vacated by an overwritten chunk).
func (r *RegionFile) writeInternal(idx int, compressed []byte, kind byte) error {
	total := 5 + len(compressed)
	sectorCount := (total + sectorSize - 1) / sectorSize
	if sectorCount > int(kindMask) {
		return fmt.Errorf("regionfile: chunk needs %d sectors, exceeds the %d representable once the external bit is reserved", sectorCount, kindMask)
	}

	offset := r.nextSector
	buf := make([]byte, sectorCount*sectorSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(compressed)))
	buf[4] = kind & kindMask
	copy(buf[5:], compressed)

	if _, err := r.file.WriteAt(buf, int64(offset)*sectorSize); err != nil {
		return fmt.Errorf("regionfile: writing chunk sectors: %w", err)
	}
	r.nextSector += uint32(sectorCount)
	r.locations[idx] = location{Offset: offset, Count: uint8(sectorCount)}
	return nil
}

// writePlaceholder writes the 1-sector internal stub §4.I's "Put chunk"
// step 2 describes for externally-spilled chunks: length=1, a single zero
// data byte. The external bit lives in the location table entry, which is
// what GetChunk/IsExternal actually consult; the stub sector itself is
// never read once the location's external bit is set.
func (r *RegionFile) writePlaceholder(idx int) error {
	offset := r.nextSector
	buf := make([]byte, sectorSize)
	binary.BigEndian.PutUint32(buf[0:4], placeholderLength)
	buf[4] = 0
	buf[5] = 0

	if _, err := r.file.WriteAt(buf, int64(offset)*sectorSize); err != nil {
		return fmt.Errorf("regionfile: writing placeholder sector: %w", err)
	}
	r.nextSector++
	r.locations[idx] = location{Offset: offset, Count: 1, External: true}
	return nil
}

// writeExternal atomically writes the sibling .mcc file: 5 reserved zero
// bytes, then u32 length || u8 compression || payload.
func (r *RegionFile) writeExternal(globalX, globalZ int32, compressed []byte, kind byte) error {
	path := r.mccPath(globalX, globalZ)
	tmp := path + ".tmp"

	buf := make([]byte, 5+5+len(compressed))
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(compressed)))
	buf[9] = kind & kindMask
	copy(buf[10:], compressed)

	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("regionfile: writing external chunk: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("regionfile: renaming external chunk into place: %w", err)
	}
	return nil
}

// HasExternal reports whether a sibling .mcc file exists for the chunk at
// the given global coordinates, used to assert the "location's external
// bit matches the presence of the sibling file" invariant in tests.
func (r *RegionFile) HasExternal(globalX, globalZ int32) bool {
	_, err := os.Stat(r.mccPath(globalX, globalZ))
	return err == nil
}

// IsExternal reports whether the location entry for the given chunk
// currently carries the external bit (§3: "the sector-count's high bit
// signals external storage").
func (r *RegionFile) IsExternal(globalX, globalZ int32) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := localIndex(globalX, globalZ)
	loc := r.locations[idx]
	if loc.empty() {
		return false, false
	}
	return loc.External, true
}

// Close flushes the header and closes the underlying file.
func (r *RegionFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writeHeader(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
