package fat32vol

import (
	"fmt"

	"github.com/noxer/bytewriter"
)

// clusterOffset maps a cluster number to its byte offset in the buffer.
func (v *Volume) clusterOffset(cluster ClusterID) (int64, error) {
	if !v.validCluster(cluster) {
		return 0, ErrOutOfRange.WithMessage(
			fmt.Sprintf("cluster %d not in [2, %d)", cluster, v.geo.TotalClusters+2))
	}
	return v.geo.DataStart + int64(cluster-2)*int64(v.geo.BytesPerCluster), nil
}

// readCluster returns a bounds-checked slice covering one whole cluster. The
// slice aliases the backing buffer, so writes through it change the image.
func (v *Volume) readCluster(cluster ClusterID) ([]byte, error) {
	offset, err := v.clusterOffset(cluster)
	if err != nil {
		return nil, err
	}

	end := offset + int64(v.geo.BytesPerCluster)
	if end > int64(len(v.buf)) {
		return nil, ErrOutOfRange.WithMessage(
			fmt.Sprintf("cluster %d extends past the end of the buffer", cluster))
	}
	return v.buf[offset:end], nil
}

// writeCluster writes up to bytesPerCluster bytes of payload into cluster,
// zero-filling the remainder of the cluster.
func (mv *MutableVolume) writeCluster(cluster ClusterID, payload []byte) error {
	offset, err := mv.clusterOffset(cluster)
	if err != nil {
		return err
	}

	bpc := int(mv.geo.BytesPerCluster)
	end := offset + int64(bpc)
	if end > int64(len(mv.buf)) {
		return ErrOutOfRange.WithMessage(
			fmt.Sprintf("cluster %d extends past the end of the buffer", cluster))
	}

	if len(payload) > bpc {
		payload = payload[:bpc]
	}

	dst := mv.buf[offset:end]
	for i := range dst {
		dst[i] = 0
	}

	w := bytewriter.New(dst)
	_, err = w.Write(payload)
	return err
}
