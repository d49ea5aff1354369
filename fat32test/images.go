// Package fat32test builds small, valid FAT32 images entirely in memory for
// use by this module's own tests. It knows the same on-disk layout as
// fat32vol but does not import it, so it can construct images that are
// deliberately malformed in one specific way without fighting the encoder
// that would otherwise refuse to produce them.
package fat32test

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	attrDirectory = 0x10
	attrArchive   = 0x20
	eocMarker     = 0x0FFF_FFFF
	deletedMarker = 0xE5
	escapedE5     = 0x05
	rootCluster   = 2
)

// Node describes one file or directory to materialize inside a built image.
type Node struct {
	Name     string
	IsDir    bool
	Content  []byte
	Children []Node

	deleted bool
}

// File returns a regular-file Node with the given content.
func File(name string, content []byte) Node {
	return Node{Name: name, Content: content}
}

// Dir returns a directory Node containing children.
func Dir(name string, children ...Node) Node {
	return Node{Name: name, IsDir: true, Children: children}
}

// Deleted returns a placeholder Node that materializes as a bare deleted
// (0xE5) directory record, to exercise scanners' skip-deleted-entry paths.
func Deleted(name string) Node {
	return Node{Name: name, deleted: true}
}

// Options controls the geometry of a built image. Zero-valued fields fall
// back to a small but valid default geometry: one 512-byte sector per
// cluster, one reserved sector, one FAT, and 32 data clusters.
type Options struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	DataClusters      uint32
}

func (o *Options) setDefaults() {
	if o.BytesPerSector == 0 {
		o.BytesPerSector = 512
	}
	if o.SectorsPerCluster == 0 {
		o.SectorsPerCluster = 1
	}
	if o.ReservedSectors == 0 {
		o.ReservedSectors = 1
	}
	if o.NumFATs == 0 {
		o.NumFATs = 1
	}
	if o.DataClusters == 0 {
		o.DataClusters = 32
	}
}

func fatSectorsNeeded(dataClusters uint32, bytesPerSector uint16) uint32 {
	entries := dataClusters + 2
	bytesNeeded := entries * 4
	sectors := (bytesNeeded + uint32(bytesPerSector) - 1) / uint32(bytesPerSector)
	if sectors == 0 {
		sectors = 1
	}
	return sectors
}

func writeBPB(img []byte, opts Options, fatSizeSectors uint32) {
	binary.LittleEndian.PutUint16(img[11:13], opts.BytesPerSector)
	img[13] = opts.SectorsPerCluster
	binary.LittleEndian.PutUint16(img[14:16], opts.ReservedSectors)
	img[16] = opts.NumFATs
	binary.LittleEndian.PutUint32(img[36:40], fatSizeSectors)
	binary.LittleEndian.PutUint32(img[44:48], rootCluster)
}

// Build assembles a complete FAT32 image containing root's entries in the
// root directory and returns the raw bytes, ready to pass to
// fat32vol.Open or fat32vol.OpenMutable.
func Build(t *testing.T, opts Options, root []Node) []byte {
	opts.setDefaults()

	bytesPerCluster := uint32(opts.BytesPerSector) * uint32(opts.SectorsPerCluster)
	fatSizeSectors := fatSectorsNeeded(opts.DataClusters, opts.BytesPerSector)

	fatStart := int64(opts.ReservedSectors) * int64(opts.BytesPerSector)
	dataStart := fatStart + int64(opts.NumFATs)*int64(fatSizeSectors)*int64(opts.BytesPerSector)
	totalSize := dataStart + int64(opts.DataClusters)*int64(bytesPerCluster)

	img := make([]byte, totalSize)
	writeBPB(img, opts, fatSizeSectors)

	require.GreaterOrEqual(t, opts.DataClusters, uint32(1), "need at least one data cluster for the root directory")

	b := &builder{
		img:             img,
		bytesPerCluster: bytesPerCluster,
		fatStart:        fatStart,
		dataStart:       dataStart,
		totalClusters:   opts.DataClusters,
		nextFreeCluster: rootCluster + 1,
	}

	b.writeDirectory(t, rootCluster, root)
	return img
}

type builder struct {
	img             []byte
	bytesPerCluster uint32
	fatStart        int64
	dataStart       int64
	totalClusters   uint32
	nextFreeCluster uint32
}

func (b *builder) fatEntryOffset(cluster uint32) int64 {
	return b.fatStart + int64(cluster)*4
}

func (b *builder) setFATEntry(cluster, value uint32) {
	off := b.fatEntryOffset(cluster)
	binary.LittleEndian.PutUint32(b.img[off:off+4], value)
}

func (b *builder) clusterOffset(cluster uint32) int64 {
	return b.dataStart + int64(cluster-2)*int64(b.bytesPerCluster)
}

func (b *builder) allocateCluster(t *testing.T) uint32 {
	require.Less(t, b.nextFreeCluster, b.totalClusters+2, "ran out of test image clusters")
	c := b.nextFreeCluster
	b.nextFreeCluster++
	return c
}

// allocateChain allocates enough clusters to hold length bytes, at least
// one even for an empty file, and terminates the chain with EOC.
func (b *builder) allocateChain(t *testing.T, length int) []uint32 {
	n := 1
	if length > 0 {
		n = (length + int(b.bytesPerCluster) - 1) / int(b.bytesPerCluster)
	}
	chain := make([]uint32, n)
	for i := range chain {
		chain[i] = b.allocateCluster(t)
	}
	for i := 0; i < len(chain)-1; i++ {
		b.setFATEntry(chain[i], chain[i+1])
	}
	b.setFATEntry(chain[len(chain)-1], eocMarker)
	return chain
}

func (b *builder) writeContentChain(chain []uint32, content []byte) {
	remaining := content
	for _, cluster := range chain {
		n := int(b.bytesPerCluster)
		if n > len(remaining) {
			n = len(remaining)
		}
		off := b.clusterOffset(cluster)
		copy(b.img[off:off+int64(b.bytesPerCluster)], remaining[:n])
		remaining = remaining[n:]
	}
}

// writeDirectory writes children's records starting at startCluster,
// allocating additional directory clusters if they don't all fit in one.
func (b *builder) writeDirectory(t *testing.T, startCluster uint32, children []Node) {
	b.setFATEntry(startCluster, eocMarker)

	chain := []uint32{startCluster}
	clusterIndex := 0
	byteOffset := 0

	for _, child := range children {
		if byteOffset+32 > int(b.bytesPerCluster) {
			next := b.allocateCluster(t)
			b.setFATEntry(chain[clusterIndex], next)
			b.setFATEntry(next, eocMarker)
			chain = append(chain, next)
			clusterIndex++
			byteOffset = 0
		}

		recOffset := b.clusterOffset(chain[clusterIndex]) + int64(byteOffset)
		rec := b.img[recOffset : recOffset+32]

		if child.deleted {
			rec[0] = deletedMarker
			byteOffset += 32
			continue
		}

		writeShortName(t, rec[0:11], child.Name)

		var firstCluster, size uint32
		if child.IsDir {
			rec[11] = attrDirectory
			firstCluster = b.allocateCluster(t)
			b.writeDirectory(t, firstCluster, child.Children)
		} else {
			rec[11] = attrArchive
			if len(child.Content) > 0 {
				fileChain := b.allocateChain(t, len(child.Content))
				b.writeContentChain(fileChain, child.Content)
				firstCluster = fileChain[0]
			}
			size = uint32(len(child.Content))
		}

		binary.LittleEndian.PutUint16(rec[20:22], uint16(firstCluster>>16))
		binary.LittleEndian.PutUint16(rec[26:28], uint16(firstCluster&0xFFFF))
		binary.LittleEndian.PutUint32(rec[28:32], size)

		byteOffset += 32
	}
}

func splitName(name string) (base, ext string) {
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		return name, ""
	}
	return name[:dot], name[dot+1:]
}

func writeShortName(t *testing.T, dst []byte, name string) {
	for i := range dst {
		dst[i] = ' '
	}

	base, ext := splitName(name)
	require.LessOrEqual(t, len(base), 8, "base name %q too long", base)
	require.LessOrEqual(t, len(ext), 3, "extension %q too long", ext)

	copy(dst[0:8], []byte(base))
	copy(dst[8:11], []byte(ext))

	if dst[0] == deletedMarker {
		dst[0] = escapedE5
	}
}
