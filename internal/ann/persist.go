package ann

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
)

// File format, version 1:
// magic(8) version(4) dims(4) nodeCount(4) entryPoint(4) maxLevel(4)
// M(4) Mmax0(4) efConst(4) efSearch(4)
// then per node: id(8) level(4) vector(dims*4)
// then per layer 0..level: linkCount(4) links(linkCount*4)
// All integers little-endian.

const magic = "RVHNSW01"

// Save persists the index to a binary file readable by Load.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte(magic)); err != nil {
		return err
	}
	header := []int32{
		1, // version
		int32(idx.dims),
		int32(len(idx.nodes)),
		int32(idx.entryPoint),
		int32(idx.maxLevel),
		int32(idx.M),
		int32(idx.Mmax0),
		int32(idx.EfConstruction),
		int32(idx.EfSearch),
	}
	for _, v := range header {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, n := range idx.nodes {
		if err := binary.Write(f, binary.LittleEndian, n.id); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, int32(n.level)); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, n.vector); err != nil {
			return err
		}
		for l := 0; l <= n.level; l++ {
			links := n.links[l]
			if err := binary.Write(f, binary.LittleEndian, int32(len(links))); err != nil {
				return err
			}
			for _, link := range links {
				if err := binary.Write(f, binary.LittleEndian, int32(link)); err != nil {
					return err
				}
			}
		}
	}
	return f.Sync()
}

// Load restores an index written by Save.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index file: %w", err)
	}
	defer f.Close()

	magicBuf := make([]byte, 8)
	if _, err := io.ReadFull(f, magicBuf); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magicBuf) != magic {
		return nil, fmt.Errorf("invalid magic %q (expected %q)", string(magicBuf), magic)
	}

	header := make([]int32, 9)
	for i := range header {
		if err := binary.Read(f, binary.LittleEndian, &header[i]); err != nil {
			return nil, fmt.Errorf("reading header field %d: %w", i, err)
		}
	}
	version, dims, nodeCount := header[0], header[1], header[2]
	if version != 1 {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}

	m := int(header[5])
	idx := &Index{
		dims:           int(dims),
		entryPoint:     int(header[3]),
		maxLevel:       int(header[4]),
		M:              m,
		Mmax0:          int(header[6]),
		EfConstruction: int(header[7]),
		EfSearch:       int(header[8]),
		levelMult:      1.0 / math.Log(float64(m)),
		nodes:          make([]node, 0, nodeCount),
		byID:           make(map[int64]int, nodeCount),
		rng:            rand.New(rand.NewSource(42)),
	}

	for i := int32(0); i < nodeCount; i++ {
		var id int64
		if err := binary.Read(f, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("reading node %d id: %w", i, err)
		}
		var level int32
		if err := binary.Read(f, binary.LittleEndian, &level); err != nil {
			return nil, fmt.Errorf("reading node %d level: %w", i, err)
		}

		vector := make([]float32, dims)
		if err := binary.Read(f, binary.LittleEndian, vector); err != nil {
			return nil, fmt.Errorf("reading node %d vector: %w", i, err)
		}

		links := make([][]int, level+1)
		for l := int32(0); l <= level; l++ {
			var count int32
			if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
				return nil, fmt.Errorf("reading node %d layer %d link count: %w", i, l, err)
			}
			links[l] = make([]int, count)
			for j := int32(0); j < count; j++ {
				var link int32
				if err := binary.Read(f, binary.LittleEndian, &link); err != nil {
					return nil, fmt.Errorf("reading node %d layer %d link %d: %w", i, l, j, err)
				}
				links[l][j] = int(link)
			}
		}

		idx.nodes = append(idx.nodes, node{id: id, vector: vector, links: links, level: int(level)})
		idx.byID[id] = int(i)
	}
	return idx, nil
}
