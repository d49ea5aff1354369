package fat32vol

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xaionaro-go/bytesextra"
)

// Volume is a read-only view over a FAT32 image held entirely in memory.
type Volume struct {
	buf []byte
	geo Geometry
}

// Open decodes image's Boot Parameter Block and returns a read-only Volume.
// image is retained by reference; the caller owns persisting it externally.
func Open(image []byte) (*Volume, error) {
	stream := bytesextra.NewReadWriteSeeker(image)

	geo, err := decodeBPB(stream, int64(len(image)))
	if err != nil {
		return nil, err
	}

	return &Volume{buf: image, geo: geo}, nil
}

// Geometry returns the volume's decoded, derived geometry.
func (v *Volume) Geometry() Geometry { return v.geo }

// rootEntry is the synthetic directory entry for "/".
func (v *Volume) rootEntry() Entry {
	return Entry{
		name:         "",
		attr:         attrDirectory,
		firstCluster: ClusterID(v.geo.RootCluster),
		isSynthetic:  true,
	}
}

// listDirCluster decodes every surviving directory record reachable from
// start's cluster chain, in on-disk order.
func (v *Volume) listDirCluster(start ClusterID) ([]Entry, error) {
	chain, err := v.chainClusters(start)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, 16)

scan:
	for clusterIndex, cluster := range chain {
		data, err := v.readCluster(cluster)
		if err != nil {
			return nil, err
		}

		for offset := 0; offset+direntSize <= len(data); offset += direntSize {
			kind, entry := decodeDirent(data[offset:offset+direntSize],
				entryLocation{clusterIndex: clusterIndex, byteOffset: offset})

			switch kind {
			case direntEndOfDirectory:
				break scan
			case direntSkip:
				continue
			case direntEntry:
				entries = append(entries, entry)
			}
		}
	}

	return entries, nil
}

// ListRoot lists the contents of the volume's root directory.
func (v *Volume) ListRoot() ([]Entry, error) {
	return v.listDirCluster(ClusterID(v.geo.RootCluster))
}

// normalizeSegment upper-cases a path segment the way FAT lookups are
// case-insensitive on input and case-normalizing on storage.
func normalizeSegment(segment string) string {
	return strings.ToUpper(segment)
}

// splitPath breaks an absolute path into its non-empty segments.
func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, ErrInvalidPath.WithMessage(fmt.Sprintf("path %q is not absolute", path))
	}

	var segments []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments, nil
}

// OpenPath resolves an absolute path to its directory entry, without
// consuming file content.
func (v *Volume) OpenPath(path string) (Entry, error) {
	segments, err := splitPath(path)
	if err != nil {
		return Entry{}, err
	}

	current := v.rootEntry()
	for i, segment := range segments {
		if !current.IsDir() {
			return Entry{}, ErrNotADirectory.WithMessage(
				fmt.Sprintf("%q is not a directory", current.name))
		}

		target := normalizeSegment(segment)
		entries, err := v.listDirCluster(current.firstCluster)
		if err != nil {
			return Entry{}, err
		}

		found := false
		for _, e := range entries {
			if e.name == target {
				current = e
				found = true
				break
			}
		}
		if !found {
			return Entry{}, ErrNotFound.WithMessage(
				fmt.Sprintf("%q not found in path %q", segment, path))
		}

		if i != len(segments)-1 && !current.IsDir() {
			return Entry{}, ErrNotADirectory.WithMessage(
				fmt.Sprintf("%q is a file, not a directory", segment))
		}
	}

	return current, nil
}

// ListDirPath resolves path and lists its contents. path must name a
// directory.
func (v *Volume) ListDirPath(path string) ([]Entry, error) {
	if path == "/" {
		return v.ListRoot()
	}

	entry, err := v.OpenPath(path)
	if err != nil {
		return nil, err
	}
	if !entry.IsDir() {
		return nil, ErrNotADirectory.WithMessage(fmt.Sprintf("%q is not a directory", path))
	}
	return v.listDirCluster(entry.firstCluster)
}

// ReadFile assembles a file's content from its directory entry, following
// its cluster chain until exactly entry.Size() bytes have been collected.
func (v *Volume) ReadFile(entry Entry) ([]byte, error) {
	if entry.IsDir() {
		return nil, ErrNotAFile.WithMessage("entry is a directory")
	}
	if entry.size == 0 || entry.firstCluster == 0 {
		return []byte{}, nil
	}

	chain, err := v.chainClusters(entry.firstCluster)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(int(entry.size))

	remaining := int(entry.size)
	for _, cluster := range chain {
		if remaining == 0 {
			break
		}
		data, err := v.readCluster(cluster)
		if err != nil {
			return nil, err
		}

		take := remaining
		if take > len(data) {
			take = len(data)
		}
		out.Write(data[:take])
		remaining -= take
	}

	if remaining > 0 {
		return nil, ErrCorruptChain.WithMessage(
			fmt.Sprintf("chain from cluster %d ended %d bytes short of declared size %d",
				entry.firstCluster, remaining, entry.size))
	}

	return out.Bytes(), nil
}

// ReadFileByPath resolves path and returns the named file's content.
func (v *Volume) ReadFileByPath(path string) ([]byte, error) {
	entry, err := v.OpenPath(path)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() {
		return nil, ErrNotAFile.WithMessage(fmt.Sprintf("%q is a directory", path))
	}
	return v.ReadFile(entry)
}
