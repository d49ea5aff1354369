package fat32vol

import (
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
)

// ClusterID identifies a cluster on the volume. Valid data clusters start
// at 2.
type ClusterID uint32

const (
	fatEntryMask = 0x0FFF_FFFF
	fatBadValue  = 0x0FFF_FFF7
	fatEOCFloor  = 0x0FFF_FFF8
	eocMarker    = 0x0FFF_FFFF
)

// fatState is the classification of a raw FAT entry's low 28 bits.
type fatState uint8

const (
	fatFree fatState = iota
	fatNext
	fatBad
	fatEOC
	fatReserved
)

// classifyFATValue applies the classification rules from the FAT entry data
// model: free, allocated-next, bad, end-of-chain, or reserved.
func classifyFATValue(raw uint32) (fatState, ClusterID) {
	v := raw & fatEntryMask
	switch {
	case v == 0:
		return fatFree, 0
	case v >= 2 && v <= 0x0FFF_FFEF:
		return fatNext, ClusterID(v)
	case v == fatBadValue:
		return fatBad, 0
	case v >= fatEOCFloor:
		return fatEOC, 0
	default:
		// 0x0000_0001 and 0x0FFF_FFF0..0x0FFF_FFF6: reserved. Treated as
		// end-of-chain when encountered during traversal; never a valid
		// allocation target.
		return fatReserved, 0
	}
}

func (v *Volume) validCluster(cluster ClusterID) bool {
	return cluster >= 2 && uint32(cluster) < v.geo.TotalClusters+2
}

// fatEntryOffset returns the byte offset of cluster's 32-bit FAT #0 entry.
func (v *Volume) fatEntryOffset(cluster ClusterID) (int64, error) {
	if !v.validCluster(cluster) {
		return 0, ErrOutOfRange.WithMessage(
			fmt.Sprintf("cluster %d not in [2, %d)", cluster, v.geo.TotalClusters+2))
	}

	offset := v.geo.FATStart + int64(cluster)*4
	fatRegionEnd := v.geo.FATStart + int64(v.geo.FATSizeSectors)*int64(v.geo.BytesPerSector)
	if offset+4 > fatRegionEnd || offset+4 > int64(len(v.buf)) {
		return 0, ErrOutOfRange.WithMessage(
			fmt.Sprintf("FAT entry for cluster %d exceeds the FAT region", cluster))
	}
	return offset, nil
}

// readFATRaw returns the raw (masked) FAT #0 entry for cluster.
func (v *Volume) readFATRaw(cluster ClusterID) (uint32, error) {
	offset, err := v.fatEntryOffset(cluster)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v.buf[offset : offset+4]) & fatEntryMask, nil
}

// writeFATRaw preserves the upper 4 reserved bits of the existing word and
// writes the low 28 bits of value.
func (mv *MutableVolume) writeFATRaw(cluster ClusterID, value uint32) error {
	offset, err := mv.fatEntryOffset(cluster)
	if err != nil {
		return err
	}

	existing := binary.LittleEndian.Uint32(mv.buf[offset : offset+4])
	merged := (existing &^ uint32(fatEntryMask)) | (value & fatEntryMask)

	w := bytewriter.New(mv.buf[offset : offset+4])
	return binary.Write(w, binary.LittleEndian, merged)
}

// chainClusters walks the cluster chain starting at start, stopping at an
// end-of-chain or reserved marker, and enforcing the MAX_CHAIN cap of
// total_clusters+2 to bound work against cycles.
func (v *Volume) chainClusters(start ClusterID) ([]ClusterID, error) {
	if !v.validCluster(start) {
		return nil, ErrOutOfRange.WithMessage(
			fmt.Sprintf("cluster %d cannot start a chain", start))
	}

	maxChain := v.geo.TotalClusters + 2
	chain := make([]ClusterID, 0, 8)
	current := start

	for i := uint32(0); ; i++ {
		if i >= maxChain {
			return nil, ErrCorruptChain.WithMessage(
				fmt.Sprintf("chain from cluster %d exceeded cap of %d clusters", start, maxChain))
		}

		chain = append(chain, current)

		raw, err := v.readFATRaw(current)
		if err != nil {
			return nil, err
		}

		state, next := classifyFATValue(raw)
		switch state {
		case fatNext:
			current = next
		case fatEOC, fatReserved:
			return chain, nil
		case fatBad:
			return nil, ErrCorruptChain.WithMessage(
				fmt.Sprintf("cluster %d in chain from %d is marked bad", current, start))
		default: // fatFree: a chain can never legitimately point at a free cluster.
			return nil, ErrCorruptChain.WithMessage(
				fmt.Sprintf("cluster %d in chain from %d points at a free cluster", current, start))
		}
	}
}
