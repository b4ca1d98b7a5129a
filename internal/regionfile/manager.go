package regionfile

import (
	"fmt"
	"sync"
)

// Manager caches open RegionFiles by coordinate within a single world's
// region/ directory, the role go-theft-craft-server's package-level
// SaveRegion and discopanel's RegionManager split between them.
type Manager struct {
	dir             string
	defaultKind     byte
	mu              sync.Mutex
	open            map[[2]int32]*RegionFile
}

// NewManager constructs a Manager rooted at dir (a world's region/
// directory), compressing newly written chunks with defaultKind.
func NewManager(dir string, defaultKind byte) *Manager {
	return &Manager{dir: dir, defaultKind: defaultKind, open: make(map[[2]int32]*RegionFile)}
}

// Region returns the (cached, opening-on-first-use) RegionFile for rx,rz.
func (m *Manager) Region(rx, rz int32) (*RegionFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int32{rx, rz}
	if rf, ok := m.open[key]; ok {
		return rf, nil
	}
	rf, err := Open(m.dir, rx, rz)
	if err != nil {
		return nil, err
	}
	m.open[key] = rf
	return rf, nil
}

// LoadChunk implements world.ChunkLoader: globalX/globalZ are chunk
// coordinates, the region is derived via >>5.
func (m *Manager) LoadChunk(globalX, globalZ int32) ([]byte, bool, error) {
	rf, err := m.Region(globalX>>5, globalZ>>5)
	if err != nil {
		return nil, false, fmt.Errorf("regionfile: opening region for chunk (%d,%d): %w", globalX, globalZ, err)
	}
	return rf.GetChunk(globalX, globalZ)
}

// SaveChunk implements world.ChunkLoader.
func (m *Manager) SaveChunk(globalX, globalZ int32, data []byte) error {
	rf, err := m.Region(globalX>>5, globalZ>>5)
	if err != nil {
		return fmt.Errorf("regionfile: opening region for chunk (%d,%d): %w", globalX, globalZ, err)
	}
	return rf.PutChunk(globalX, globalZ, data, m.defaultKind)
}

// Close flushes and closes every open region file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, rf := range m.open {
		if err := rf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.open = make(map[[2]int32]*RegionFile)
	return firstErr
}
