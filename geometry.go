package fat32vol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// rawBPB is the on-disk layout of the leading portion of the FAT32 Boot
// Parameter Block, up to (but not including) the FAT32-specific extension
// fields. Fields are ordered and sized so that binary.Read consumes exactly
// the bytes at their canonical offsets.
type rawBPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16 // offset 11
	SectorsPerCluster uint8  // offset 13
	ReservedSectors   uint16 // offset 14
	NumFATs           uint8  // offset 16
	RootEntryCount    uint16
	_                 [2]byte // total_sectors_16: unused on FAT32
	Media             uint8
	_                 [2]byte // fat_size_16: always 0 on FAT32, fat_size_sectors comes from the 32-bit field at offset 36
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	_                 [4]byte // total_sectors_32: unused, geometry is derived from the buffer length instead
	// ends at offset 36
}

// Geometry holds the immutable, derived layout of a FAT32 volume, computed
// once from the Boot Parameter Block at Open time.
type Geometry struct {
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumFATs             uint8
	FATSizeSectors      uint32
	RootCluster         uint32

	// Derived fields.
	FATStart        int64
	DataStart       int64
	BytesPerCluster uint32
	TotalClusters   uint32
}

func isPowerOfTwoInRange(v uint8, lo, hi int) bool {
	if int(v) < lo || int(v) > hi {
		return false
	}
	return v&(v-1) == 0
}

// decodeBPB reads the first 512 bytes of r (a stream positioned at, or
// seekable to, the start of the volume) and derives a validated Geometry.
// bufferLen is the total size of the backing image, used to bound the
// derived data region.
func decodeBPB(r io.ReadSeeker, bufferLen int64) (Geometry, error) {
	if bufferLen < 512 {
		return Geometry{}, ErrBadBpb.WithMessage("image shorter than one sector")
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Geometry{}, ErrBadBpb.Wrap(err)
	}

	var raw rawBPB
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Geometry{}, ErrBadBpb.Wrap(err)
	}

	var fatSize32 uint32
	if err := binary.Read(r, binary.LittleEndian, &fatSize32); err != nil {
		return Geometry{}, ErrBadBpb.Wrap(err)
	}

	// ExtFlags (2 bytes) and FSVersion (2 bytes) sit between FATSize32 and
	// RootCluster; this core has no use for either, so skip them.
	if _, err := io.CopyN(io.Discard, r, 4); err != nil {
		return Geometry{}, ErrBadBpb.Wrap(err)
	}

	var rootCluster uint32
	if err := binary.Read(r, binary.LittleEndian, &rootCluster); err != nil {
		return Geometry{}, ErrBadBpb.Wrap(err)
	}

	if raw.BytesPerSector != 512 {
		return Geometry{}, ErrBadBpb.WithMessage(
			fmt.Sprintf("bytes per sector must be 512, got %d", raw.BytesPerSector))
	}
	if !isPowerOfTwoInRange(raw.SectorsPerCluster, 1, 128) {
		return Geometry{}, ErrBadBpb.WithMessage(
			fmt.Sprintf("sectors per cluster must be a power of two in [1,128], got %d",
				raw.SectorsPerCluster))
	}
	if raw.NumFATs == 0 {
		return Geometry{}, ErrBadBpb.WithMessage("num_fats must be at least 1")
	}
	if fatSize32 == 0 {
		return Geometry{}, ErrBadBpb.WithMessage("fat_size_sectors must be non-zero")
	}
	if rootCluster < 2 {
		return Geometry{}, ErrBadBpb.WithMessage(
			fmt.Sprintf("root_cluster must be >= 2, got %d", rootCluster))
	}

	fatStart := int64(raw.ReservedSectors) * int64(raw.BytesPerSector)
	dataStart := fatStart + int64(raw.NumFATs)*int64(fatSize32)*int64(raw.BytesPerSector)
	if dataStart > bufferLen {
		return Geometry{}, ErrBadBpb.WithMessage("data region starts past the end of the buffer")
	}

	bytesPerCluster := uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster)
	if bytesPerCluster < 32 {
		return Geometry{}, ErrBadBpb.WithMessage("bytes per cluster must hold at least one directory record")
	}

	totalClusters := uint32(0)
	if bufferLen > dataStart {
		totalClusters = uint32((bufferLen - dataStart) / int64(bytesPerCluster))
	}

	if rootCluster >= totalClusters+2 {
		return Geometry{}, ErrBadBpb.WithMessage(
			fmt.Sprintf("root_cluster %d is outside the volume's %d clusters", rootCluster, totalClusters))
	}

	return Geometry{
		BytesPerSector:      raw.BytesPerSector,
		SectorsPerCluster:   raw.SectorsPerCluster,
		ReservedSectorCount: raw.ReservedSectors,
		NumFATs:             raw.NumFATs,
		FATSizeSectors:      fatSize32,
		RootCluster:         rootCluster,
		FATStart:            fatStart,
		DataStart:           dataStart,
		BytesPerCluster:     bytesPerCluster,
		TotalClusters:       totalClusters,
	}, nil
}
