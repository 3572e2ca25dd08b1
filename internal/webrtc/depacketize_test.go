package webrtc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// FU-A fragments of a type 5 (IDR) NAL with NRI=3.
var (
	fuaStart = []byte{0x7C, 0x85, 0x01, 0x02}
	fuaMid   = []byte{0x7C, 0x05, 0x03, 0x04}
	fuaEnd   = []byte{0x7C, 0x45, 0x05, 0x06}
)

func TestDepacketizeSingleNAL(t *testing.T) {
	d := NewH264Depacketizer()

	payload := []byte{0x65, 0x01, 0x02, 0x03}
	require.Equal(t, [][]byte{payload}, d.Depacketize(100, payload))
}

func TestDepacketizeSTAPA(t *testing.T) {
	d := NewH264Depacketizer()

	sps := []byte{0x67, 0xAA, 0xBB}
	pps := []byte{0x68, 0xCC}
	payload := []byte{0x18, 0x00, 0x03}
	payload = append(payload, sps...)
	payload = append(payload, 0x00, 0x02)
	payload = append(payload, pps...)

	require.Equal(t, [][]byte{sps, pps}, d.Depacketize(100, payload))

	t.Run("zero size stops parsing", func(t *testing.T) {
		require.Empty(t, d.Depacketize(101, []byte{0x18, 0x00, 0x00}))
	})

	t.Run("truncated", func(t *testing.T) {
		require.Empty(t, d.Depacketize(102, []byte{0x18, 0x00, 0x09, 0x67}))
	})
}

func TestDepacketizeFUA(t *testing.T) {
	d := NewH264Depacketizer()

	require.Nil(t, d.Depacketize(100, fuaStart))
	require.Nil(t, d.Depacketize(101, fuaMid))

	nalus := d.Depacketize(102, fuaEnd)
	require.Equal(t, [][]byte{{0x65, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}}, nalus)
}

func TestDepacketizeFUASequenceWraps(t *testing.T) {
	d := NewH264Depacketizer()

	require.Nil(t, d.Depacketize(65535, fuaStart))
	require.Len(t, d.Depacketize(0, fuaEnd), 1)
}

func TestDepacketizeEmptyPayload(t *testing.T) {
	d := NewH264Depacketizer()

	require.Nil(t, d.Depacketize(0, nil))
	require.Nil(t, d.Depacketize(0, []byte{}))
}

func TestDepacketizeInstanceIsolation(t *testing.T) {
	d1 := NewH264Depacketizer()
	d2 := NewH264Depacketizer()

	d1.Depacketize(100, fuaStart)

	require.Nil(t, d2.Depacketize(101, fuaEnd), "orphan end fragment")
	require.Len(t, d1.Depacketize(101, fuaEnd), 1)
}

func TestDepacketizeFUADropsOnSequenceGap(t *testing.T) {
	d := NewH264Depacketizer()

	require.Nil(t, d.Depacketize(100, fuaStart))
	// 101 lost.
	require.Nil(t, d.Depacketize(102, fuaMid))
	require.Nil(t, d.Depacketize(103, fuaEnd))

	// The next chain is unaffected.
	require.Nil(t, d.Depacketize(104, fuaStart))
	require.Len(t, d.Depacketize(105, fuaEnd), 1)
}

func TestDepacketizeSingleNALAbortsFUA(t *testing.T) {
	d := NewH264Depacketizer()

	require.Nil(t, d.Depacketize(100, fuaStart))
	require.Len(t, d.Depacketize(101, []byte{0x41, 0x09}), 1)
	require.Nil(t, d.Depacketize(102, fuaEnd))
}
