// Package nodeindex stores node coordinates by id for way geometry assembly
package nodeindex

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

const (
	// Each node entry: lat (int32) + lon (int32) as fixed-point value * 1e7
	entrySize = 8

	// DefaultMaxNodeID covers current OSM node ids with headroom
	DefaultMaxNodeID = 16_000_000_000
)

// Index maps node ids to coordinates
type Index interface {
	Put(nodeID int64, lat, lon float64)
	Get(nodeID int64) (lat, lon float64, ok bool)
	Close() error
}

// MmapIndex is a memory-mapped node coordinate index.
// Coordinates live at offset nodeID*8 of a sparse file, so only pages that
// hold written nodes use disk.
type MmapIndex struct {
	path      string
	file      *os.File
	data      mmap.MMap
	maxNodeID int64
}

// NewMmapIndex creates a sparse index file at path for ids below maxNodeID
func NewMmapIndex(path string, maxNodeID int64) (*MmapIndex, error) {
	if maxNodeID <= 0 {
		maxNodeID = DefaultMaxNodeID
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create mmap file: %w", err)
	}

	if err := f.Truncate(maxNodeID * entrySize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to truncate file: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	return &MmapIndex{
		path:      path,
		file:      f,
		data:      data,
		maxNodeID: maxNodeID,
	}, nil
}

// Put stores a node's coordinates. Ids out of range are ignored.
func (m *MmapIndex) Put(nodeID int64, lat, lon float64) {
	if nodeID < 0 || nodeID >= m.maxNodeID {
		return
	}
	offset := nodeID * entrySize
	binary.LittleEndian.PutUint32(m.data[offset:], uint32(int32(math.Round(lat*1e7))))
	binary.LittleEndian.PutUint32(m.data[offset+4:], uint32(int32(math.Round(lon*1e7))))
}

// Get retrieves a node's coordinates.
// A node stored at exactly (0, 0) reads as missing.
func (m *MmapIndex) Get(nodeID int64) (lat, lon float64, ok bool) {
	if nodeID < 0 || nodeID >= m.maxNodeID {
		return 0, 0, false
	}
	offset := nodeID * entrySize
	latInt := int32(binary.LittleEndian.Uint32(m.data[offset:]))
	lonInt := int32(binary.LittleEndian.Uint32(m.data[offset+4:]))
	if latInt == 0 && lonInt == 0 {
		return 0, 0, false
	}
	return float64(latInt) / 1e7, float64(lonInt) / 1e7, true
}

// Close unmaps and removes the index file
func (m *MmapIndex) Close() error {
	err := m.data.Unmap()
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	os.Remove(m.path)
	return err
}

// MemIndex keeps coordinates in a map; suited to small extracts
type MemIndex struct {
	mu    sync.RWMutex
	nodes map[int64][2]float64
}

// NewMemIndex creates an empty in-memory index
func NewMemIndex() *MemIndex {
	return &MemIndex{nodes: make(map[int64][2]float64)}
}

func (m *MemIndex) Put(nodeID int64, lat, lon float64) {
	m.mu.Lock()
	m.nodes[nodeID] = [2]float64{lat, lon}
	m.mu.Unlock()
}

func (m *MemIndex) Get(nodeID int64) (lat, lon float64, ok bool) {
	m.mu.RLock()
	c, ok := m.nodes[nodeID]
	m.mu.RUnlock()
	return c[0], c[1], ok
}

func (m *MemIndex) Close() error {
	return nil
}
