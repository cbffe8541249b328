// Package pos implements a layered-graph proof-of-space: a plot file whose
// later layers are deterministically derived from earlier ones, so a
// proof that walks the dependency chain back to layer 0 cannot be
// computed on demand, only read back from a plot that was actually
// generated and stored in full.
package pos

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/kutluhann/kademlia-dht/id_tools"
)

const (
	numLayers = 3
	entrySize = int64(48) // 32 bytes value + 16 bytes parent indices
)

// Plot is an on-disk proof-of-space allocation tied to a single peer ID.
type Plot struct {
	PeerID   id_tools.PeerID
	FilePath string
	Size     int64
	Layers   int
}

// Challenge asks a plot holder to prove it still stores a specific leaf
// of the dependency graph.
type Challenge struct {
	Value      [32]byte
	StartIndex uint64
	EndIndex   uint64
	Required   int
}

// Proof is the chain of graph entries connecting the challenged leaf back
// to the base layer.
type Proof struct {
	Challenge  [32]byte
	ProofChain []ProofElement
}

// ProofElement is one node of the dependency graph revealed by a Proof.
type ProofElement struct {
	Layer       int
	Index       uint64
	Value       [32]byte
	ParentLeft  uint64
	ParentRight uint64
}

// GeneratePlot creates (or loads, if one of the right size already
// exists) a layered-graph plot of plotSize bytes for peerID under
// dataDir.
func GeneratePlot(peerID id_tools.PeerID, plotSize int64, dataDir string) (*Plot, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("pos: create data dir: %w", err)
	}

	plotPath := filepath.Join(dataDir, fmt.Sprintf("plot_%x.dat", peerID[:8]))

	if info, err := os.Stat(plotPath); err == nil {
		if info.Size() == plotSize {
			return &Plot{PeerID: peerID, FilePath: plotPath, Size: plotSize, Layers: numLayers}, nil
		}
		os.Remove(plotPath)
	}

	totalEntries := plotSize / entrySize
	entriesPerLayer := totalEntries / int64(numLayers)

	file, err := os.Create(plotPath)
	if err != nil {
		return nil, fmt.Errorf("pos: create plot file: %w", err)
	}
	defer file.Close()

	layer0 := make([][32]byte, entriesPerLayer)
	for i := int64(0); i < entriesPerLayer; i++ {
		layer0[i] = generateBaseEntry(peerID, uint64(i))
		if err := writeEntry(file, layer0[i], 0, 0); err != nil {
			return nil, err
		}
	}

	layer1 := make([][32]byte, entriesPerLayer)
	for i := int64(0); i < entriesPerLayer; i++ {
		p1, p2 := selectParents(uint64(i), entriesPerLayer)
		layer1[i] = generateDerivedEntry(layer0[p1], layer0[p2], uint64(i))
		if err := writeEntry(file, layer1[i], p1, p2); err != nil {
			return nil, err
		}
	}

	for i := int64(0); i < entriesPerLayer; i++ {
		p1, p2 := selectParents(uint64(i), entriesPerLayer)
		entry := generateDerivedEntry(layer1[p1], layer1[p2], uint64(i))
		if err := writeEntry(file, entry, p1, p2); err != nil {
			return nil, err
		}
	}

	return &Plot{PeerID: peerID, FilePath: plotPath, Size: plotSize, Layers: numLayers}, nil
}

func generateBaseEntry(peerID id_tools.PeerID, index uint64) [32]byte {
	data := make([]byte, len(peerID)+8)
	copy(data, peerID[:])
	binary.LittleEndian.PutUint64(data[len(peerID):], index)
	return sha256.Sum256(data)
}

func generateDerivedEntry(parent1, parent2 [32]byte, index uint64) [32]byte {
	data := make([]byte, 64+8)
	copy(data[0:32], parent1[:])
	copy(data[32:64], parent2[:])
	binary.LittleEndian.PutUint64(data[64:], index)
	return sha256.Sum256(data)
}

func selectParents(index uint64, layerSize int64) (uint64, uint64) {
	hash := sha256.Sum256([]byte(fmt.Sprintf("parents_%d", index)))
	p1 := binary.LittleEndian.Uint64(hash[0:8]) % uint64(layerSize)
	p2 := binary.LittleEndian.Uint64(hash[8:16]) % uint64(layerSize)
	if p1 == p2 {
		p2 = (p2 + 1) % uint64(layerSize)
	}
	return p1, p2
}

func writeEntry(file *os.File, value [32]byte, parent1, parent2 uint64) error {
	if _, err := file.Write(value[:]); err != nil {
		return fmt.Errorf("pos: write entry: %w", err)
	}
	parentData := make([]byte, 16)
	binary.LittleEndian.PutUint64(parentData[0:8], parent1)
	binary.LittleEndian.PutUint64(parentData[8:16], parent2)
	if _, err := file.Write(parentData); err != nil {
		return fmt.Errorf("pos: write parents: %w", err)
	}
	return nil
}

func readEntry(file *os.File, layer int, index uint64, entriesPerLayer int64) (*ProofElement, error) {
	offset := (int64(layer)*entriesPerLayer + int64(index)) * entrySize
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("pos: seek: %w", err)
	}
	data := make([]byte, entrySize)
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, fmt.Errorf("pos: read entry: %w", err)
	}
	var value [32]byte
	copy(value[:], data[0:32])
	return &ProofElement{
		Layer:       layer,
		Index:       index,
		Value:       value,
		ParentLeft:  binary.LittleEndian.Uint64(data[32:40]),
		ParentRight: binary.LittleEndian.Uint64(data[40:48]),
	}, nil
}

// GenerateChallenge produces a random challenge against a plot of the
// given size.
func GenerateChallenge(plotSize int64) (*Challenge, error) {
	var value [32]byte
	if _, err := rand.Read(value[:]); err != nil {
		return nil, fmt.Errorf("pos: generate challenge: %w", err)
	}

	entriesPerLayer := (plotSize / entrySize) / int64(numLayers)
	target := binary.LittleEndian.Uint64(value[:8]) % uint64(entriesPerLayer)

	return &Challenge{Value: value, StartIndex: target, EndIndex: target, Required: 5}, nil
}

// GenerateProof walks the dependency graph backward from the challenged
// leaf in the final layer down to layer 0, returning every element
// visited.
func (p *Plot) GenerateProof(challenge *Challenge) (*Proof, error) {
	file, err := os.Open(p.FilePath)
	if err != nil {
		return nil, fmt.Errorf("pos: open plot: %w", err)
	}
	defer file.Close()

	entriesPerLayer := (p.Size / entrySize) / int64(p.Layers)

	proof := &Proof{Challenge: challenge.Value}
	currentLayer := p.Layers - 1
	currentIndices := []uint64{challenge.StartIndex}

	for currentLayer >= 0 {
		next := make(map[uint64]bool)
		for _, idx := range currentIndices {
			element, err := readEntry(file, currentLayer, idx, entriesPerLayer)
			if err != nil {
				return nil, fmt.Errorf("pos: read layer %d index %d: %w", currentLayer, idx, err)
			}
			proof.ProofChain = append(proof.ProofChain, *element)
			if currentLayer > 0 {
				next[element.ParentLeft] = true
				next[element.ParentRight] = true
			}
		}

		currentIndices = currentIndices[:0]
		for idx := range next {
			currentIndices = append(currentIndices, idx)
		}
		sort.Slice(currentIndices, func(i, j int) bool { return currentIndices[i] < currentIndices[j] })

		currentLayer--
		if len(proof.ProofChain) > 20 {
			break
		}
	}

	return proof, nil
}

// VerifyProof checks that proof is a valid dependency chain for peerID
// rooted at challenge.
func VerifyProof(peerID id_tools.PeerID, challenge *Challenge, proof *Proof) bool {
	if proof.Challenge != challenge.Value || len(proof.ProofChain) == 0 {
		return false
	}

	layerMap := make(map[int]map[uint64]*ProofElement)
	for i := range proof.ProofChain {
		element := &proof.ProofChain[i]
		if layerMap[element.Layer] == nil {
			layerMap[element.Layer] = make(map[uint64]*ProofElement)
		}
		layerMap[element.Layer][element.Index] = element
	}

	if layer0, ok := layerMap[0]; ok {
		for idx, element := range layer0 {
			if generateBaseEntry(peerID, idx) != element.Value {
				return false
			}
		}
	}

	for layer := 1; layer < numLayers; layer++ {
		current, ok := layerMap[layer]
		if !ok {
			continue
		}
		previous, ok := layerMap[layer-1]
		if !ok {
			return false
		}
		for idx, element := range current {
			parent1, ok1 := previous[element.ParentLeft]
			parent2, ok2 := previous[element.ParentRight]
			if !ok1 || !ok2 {
				return false
			}
			if generateDerivedEntry(parent1.Value, parent2.Value, idx) != element.Value {
				return false
			}
		}
	}

	final := layerMap[numLayers-1]
	if final == nil {
		return false
	}
	_, ok := final[challenge.StartIndex]
	return ok
}

// VerifyPlotExists reports whether a plot of exactly expectedSize already
// exists for peerID under dataDir.
func VerifyPlotExists(peerID id_tools.PeerID, expectedSize int64, dataDir string) bool {
	plotPath := filepath.Join(dataDir, fmt.Sprintf("plot_%x.dat", peerID[:8]))
	info, err := os.Stat(plotPath)
	return err == nil && info.Size() == expectedSize
}
