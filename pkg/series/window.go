package series

import (
	"encoding/binary"

	"github.com/strato3003/jimny/pkg/models"
)

// WindowSize is the width in bytes of every candidate field
const WindowSize = 2

// Raw16 reads the big-endian 16-bit window at offset. It reports false when
// the buffer does not hold both bytes.
func Raw16(buf []byte, offset int) (uint16, bool) {
	if offset < 0 || offset+1 >= len(buf) {
		return 0, false
	}
	return binary.BigEndian.Uint16(buf[offset : offset+WindowSize]), true
}

// Windows returns the admissible 2-byte-aligned offsets for a channel whose
// longest observed buffer is maxLen bytes, below maxOffset.
func Windows(maxLen, maxOffset int) []int {
	limit := maxLen - 1
	if maxOffset < limit {
		limit = maxOffset
	}
	var out []int
	for off := 0; off < limit; off += WindowSize {
		out = append(out, off)
	}
	return out
}

// MaxLengths returns, per channel, the longest buffer seen in the dataset
func MaxLengths(ds *models.Dataset) map[models.Channel]int {
	out := make(map[models.Channel]int, len(ds.Channels))
	for _, ch := range ds.Channels {
		out[ch] = 0
	}
	for _, obs := range ds.Observations {
		for ch, buf := range obs.Raw {
			if len(buf) > out[ch] {
				out[ch] = len(buf)
			}
		}
	}
	return out
}

// Slots enumerates every admissible slot of the dataset in channel order
func Slots(ds *models.Dataset, maxOffset int) []models.Slot {
	lengths := MaxLengths(ds)
	var out []models.Slot
	for _, ch := range ds.Channels {
		for _, off := range Windows(lengths[ch], maxOffset) {
			out = append(out, models.Slot{Channel: ch, Offset: off})
		}
	}
	return out
}
