package fat32vol

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/boljen/go-bitmap"
)

const shortNameSpecialChars = "!#$%&'()-@^_`{}~"

// MutableVolume is a Volume that additionally permits creating or
// overwriting a short-named regular file in an existing directory. The
// engine is not reentrant: callers must hold exclusive access to the
// backing buffer for the duration of a write.
type MutableVolume struct {
	*Volume

	// freeBitmap caches, one bit per cluster, whether the FAT classifies
	// that cluster as anything other than free. It accelerates the
	// allocator's free-cluster scan but is never authoritative: every
	// candidate is re-validated against the live FAT entry before use.
	freeBitmap bitmap.Bitmap
}

// OpenMutable decodes image's BPB, as Open does, and additionally builds
// the allocation bitmap cache by scanning the FAT once.
func OpenMutable(image []byte) (*MutableVolume, error) {
	v, err := Open(image)
	if err != nil {
		return nil, err
	}

	mv := &MutableVolume{Volume: v}
	if err := mv.rebuildBitmap(); err != nil {
		return nil, err
	}
	return mv, nil
}

func (mv *MutableVolume) rebuildBitmap() error {
	mv.freeBitmap = bitmap.New(int(mv.geo.TotalClusters))
	for i := uint32(0); i < mv.geo.TotalClusters; i++ {
		raw, err := mv.readFATRaw(ClusterID(i + 2))
		if err != nil {
			return err
		}
		state, _ := classifyFATValue(raw)
		mv.freeBitmap.Set(int(i), state != fatFree)
	}
	return nil
}

// allocateClusters scans the FAT (accelerated by the bitmap cache) from
// cluster 2 upward and gathers up to needed free clusters. It makes no
// mutation to the buffer; on failure the transient candidate list is simply
// discarded.
func (mv *MutableVolume) allocateClusters(needed int) ([]ClusterID, error) {
	if needed == 0 {
		return nil, nil
	}

	result := make([]ClusterID, 0, needed)
	for i := uint32(0); i < mv.geo.TotalClusters && len(result) < needed; i++ {
		if mv.freeBitmap.Get(int(i)) {
			continue
		}

		cluster := ClusterID(i + 2)
		raw, err := mv.readFATRaw(cluster)
		if err != nil {
			return nil, err
		}

		state, _ := classifyFATValue(raw)
		if state != fatFree {
			// The cache disagrees with the live FAT; trust the FAT and
			// resynchronize the cached bit before moving on.
			mv.freeBitmap.Set(int(i), true)
			continue
		}

		result = append(result, cluster)
	}

	if len(result) < needed {
		return nil, ErrNoSpace.WithMessage(
			fmt.Sprintf("need %d clusters, found %d free", needed, len(result)))
	}
	return result, nil
}

// undoChainSplice rewrites the first count FAT entries of clusters back to
// free. Used to unwind a partially-spliced new chain when a later step
// fails, per the write operation's atomicity rule.
func (mv *MutableVolume) undoChainSplice(clusters []ClusterID, count int) {
	for i := 0; i < count && i < len(clusters); i++ {
		_ = mv.writeFATRaw(clusters[i], 0)
	}
}

// freeClusterChain zeroes every FAT entry belonging to the chain starting
// at start. It applies the same traversal cap as chainClusters, and if the
// chain turns out to be corrupt it stops and leaks the remainder rather
// than propagating an error: the new file written earlier in the same
// operation is already valid and must not be undone because its
// predecessor was damaged.
func (mv *MutableVolume) freeClusterChain(start ClusterID) {
	if start == 0 || !mv.validCluster(start) {
		return
	}

	maxChain := mv.geo.TotalClusters + 2
	current := start

	for i := uint32(0); i < maxChain; i++ {
		raw, err := mv.readFATRaw(current)
		if err != nil {
			return
		}

		state, next := classifyFATValue(raw)
		if err := mv.writeFATRaw(current, 0); err != nil {
			return
		}
		mv.freeBitmap.Set(int(current-2), false)

		if state != fatNext {
			return
		}
		current = next
	}
}

// findExistingEntry looks for a non-deleted record in parentChain whose
// decoded name matches wantName exactly.
func (mv *MutableVolume) findExistingEntry(parentChain []ClusterID, wantName string) (Entry, bool, error) {
	for clusterIndex, cluster := range parentChain {
		data, err := mv.readCluster(cluster)
		if err != nil {
			return Entry{}, false, err
		}

		for offset := 0; offset+direntSize <= len(data); offset += direntSize {
			kind, entry := decodeDirent(data[offset:offset+direntSize],
				entryLocation{clusterIndex: clusterIndex, byteOffset: offset})

			switch kind {
			case direntEndOfDirectory:
				return Entry{}, false, nil
			case direntEntry:
				if entry.name == wantName {
					return entry, true, nil
				}
			}
		}
	}
	return Entry{}, false, nil
}

// findFreeSlot locates the first record in parentChain whose first byte
// marks it free (0x00) or deleted (0xE5).
func (mv *MutableVolume) findFreeSlot(parentChain []ClusterID) (entryLocation, bool, error) {
	for clusterIndex, cluster := range parentChain {
		data, err := mv.readCluster(cluster)
		if err != nil {
			return entryLocation{}, false, err
		}

		for offset := 0; offset+direntSize <= len(data); offset += direntSize {
			marker := data[offset]
			if marker == direntFreeMarker || marker == direntDeletedMarker {
				return entryLocation{clusterIndex: clusterIndex, byteOffset: offset}, true, nil
			}
		}
	}
	return entryLocation{}, false, nil
}

// writeDirentRecord writes a directory record in place. When overwrite is
// false the record is zero-initialized first (a brand new slot); when true,
// only the name, attributes, cluster, and size fields are touched, leaving
// timestamps and reserved bytes untouched.
func (mv *MutableVolume) writeDirentRecord(
	cluster ClusterID, byteOffset int, name string, firstCluster ClusterID, size uint32, overwrite bool,
) error {
	data, err := mv.readCluster(cluster)
	if err != nil {
		return err
	}
	rec := data[byteOffset : byteOffset+direntSize]

	if !overwrite {
		for i := range rec {
			rec[i] = 0
		}
	}

	nameBytes := encodeShortName(name)
	copy(rec[0:11], nameBytes[:])
	rec[11] = attrArchive

	binary.LittleEndian.PutUint16(rec[20:22], uint16(firstCluster>>16))
	binary.LittleEndian.PutUint16(rec[26:28], uint16(firstCluster&0xFFFF))
	binary.LittleEndian.PutUint32(rec[28:32], size)
	return nil
}

// isValidShortNameChar reports whether c is legal in an 8.3 base or
// extension field.
func isValidShortNameChar(c byte) bool {
	if c >= 'A' && c <= 'Z' {
		return true
	}
	if c >= '0' && c <= '9' {
		return true
	}
	return strings.IndexByte(shortNameSpecialChars, c) >= 0
}

// validateShortName upper-cases and validates raw as an 8.3 short name,
// returning its base and extension (extension is "" if none was given).
func validateShortName(raw string) (base, ext string, err error) {
	if raw == "" || strings.ContainsRune(raw, '/') {
		return "", "", ErrInvalidPath.WithMessage(fmt.Sprintf("invalid file name %q", raw))
	}

	upper := strings.ToUpper(raw)
	parts := strings.Split(upper, ".")
	switch len(parts) {
	case 1:
		base = parts[0]
	case 2:
		base, ext = parts[0], parts[1]
	default:
		return "", "", ErrInvalidPath.WithMessage(fmt.Sprintf("%q has more than one '.'", raw))
	}

	if len(base) < 1 || len(base) > 8 {
		return "", "", ErrInvalidPath.WithMessage(
			fmt.Sprintf("base name %q must be 1-8 characters", base))
	}
	if len(parts) == 2 && ext == "" {
		return "", "", ErrInvalidPath.WithMessage(fmt.Sprintf("%q has an empty extension", raw))
	}
	if len(ext) > 3 {
		return "", "", ErrInvalidPath.WithMessage(
			fmt.Sprintf("extension %q must be at most 3 characters", ext))
	}

	for i := 0; i < len(base); i++ {
		if !isValidShortNameChar(base[i]) {
			return "", "", ErrInvalidPath.WithMessage(
				fmt.Sprintf("invalid character in base name %q", base))
		}
	}
	for i := 0; i < len(ext); i++ {
		if !isValidShortNameChar(ext[i]) {
			return "", "", ErrInvalidPath.WithMessage(
				fmt.Sprintf("invalid character in extension %q", ext))
		}
	}

	return base, ext, nil
}

// splitParentAndName splits an absolute path into its parent directory
// path and final segment.
func splitParentAndName(path string) (parent, name string, err error) {
	if !strings.HasPrefix(path, "/") {
		return "", "", ErrInvalidPath.WithMessage(fmt.Sprintf("path %q is not absolute", path))
	}

	idx := strings.LastIndexByte(path, '/')
	name = path[idx+1:]
	if name == "" {
		return "", "", ErrInvalidPath.WithMessage(fmt.Sprintf("path %q has no file name", path))
	}

	parent = path[:idx]
	if parent == "" {
		parent = "/"
	}
	return parent, name, nil
}

// WriteFileByPath creates or overwrites a short-named regular file at path
// with the given contents. It allocates clusters, writes the payload,
// splices the new chain, writes the directory record, and only then frees
// an overwritten file's old chain. If a step before the directory record
// is written fails, the new chain's FAT entries are reset to free, so the
// only trace left is payload bytes in clusters that are still free.
func (mv *MutableVolume) WriteFileByPath(path string, payload []byte) error {
	parentPath, finalSegment, err := splitParentAndName(path)
	if err != nil {
		return err
	}

	base, ext, err := validateShortName(finalSegment)
	if err != nil {
		return err
	}
	name := base
	if ext != "" {
		name = base + "." + ext
	}

	parent, err := mv.OpenPath(parentPath)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return ErrNotADirectory.WithMessage(fmt.Sprintf("%q is not a directory", parentPath))
	}

	parentChain, err := mv.chainClusters(parent.firstCluster)
	if err != nil {
		return err
	}

	existing, found, err := mv.findExistingEntry(parentChain, name)
	if err != nil {
		return err
	}

	needed := 0
	if len(payload) > 0 {
		needed = (len(payload) + int(mv.geo.BytesPerCluster) - 1) / int(mv.geo.BytesPerCluster)
	}

	// Step 5: allocate. No mutation has happened yet; failure here leaves
	// the buffer untouched.
	clusters, err := mv.allocateClusters(needed)
	if err != nil {
		return err
	}

	// Step 6: write payload into the newly allocated (previously free)
	// clusters. They aren't referenced by anything yet, so a failure here
	// is invisible to readers.
	remaining := payload
	for _, cluster := range clusters {
		n := int(mv.geo.BytesPerCluster)
		if n > len(remaining) {
			n = len(remaining)
		}
		if err := mv.writeCluster(cluster, remaining[:n]); err != nil {
			return err
		}
		remaining = remaining[n:]
	}

	// Step 7: splice the new chain.
	var firstCluster ClusterID
	if len(clusters) > 0 {
		firstCluster = clusters[0]
		for i := 0; i < len(clusters)-1; i++ {
			if err := mv.writeFATRaw(clusters[i], uint32(clusters[i+1])); err != nil {
				mv.undoChainSplice(clusters, i)
				return err
			}
		}
		if err := mv.writeFATRaw(clusters[len(clusters)-1], eocMarker); err != nil {
			mv.undoChainSplice(clusters, len(clusters)-1)
			return err
		}
	}

	// Step 8: update or create the directory entry. The new chain becomes
	// reachable only once this succeeds.
	var slot entryLocation
	if found {
		slot = existing.loc
	} else {
		freeSlot, ok, err := mv.findFreeSlot(parentChain)
		if err != nil {
			mv.undoChainSplice(clusters, len(clusters))
			return err
		}
		if !ok {
			mv.undoChainSplice(clusters, len(clusters))
			return ErrDirFull.WithMessage(fmt.Sprintf("no free directory slot in %q", parentPath))
		}
		slot = freeSlot
	}

	if err := mv.writeDirentRecord(
		parentChain[slot.clusterIndex], slot.byteOffset, name, firstCluster, uint32(len(payload)), found,
	); err != nil {
		mv.undoChainSplice(clusters, len(clusters))
		return err
	}

	for _, c := range clusters {
		mv.freeBitmap.Set(int(c-2), true)
	}

	// Step 9: release the old chain, now that the new file is durable.
	if found && existing.firstCluster != 0 {
		mv.freeClusterChain(existing.firstCluster)
	}

	return nil
}
