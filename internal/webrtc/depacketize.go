package webrtc

// H264Depacketizer extracts NAL units from RTP H264 payloads.
// FU-A reassembly state is kept per instance, so each remote track needs
// its own depacketizer.
type H264Depacketizer struct {
	fuaBuf  []byte
	inFUA   bool
	lastSeq uint16
}

// NewH264Depacketizer creates a new depacketizer with its own reassembly buffer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize extracts NAL units from one RTP packet with sequence number seq.
// Handles single NAL, STAP-A, and FU-A packet types. A gap in the sequence
// numbers inside a FU-A chain drops the partial NAL unit.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if len(payload) < 1 {
		return nil
	}

	naluType := payload[0] & 0x1f

	switch {
	case naluType >= 1 && naluType <= 23:
		d.resetFUA()
		return [][]byte{payload}

	case naluType == 24:
		d.resetFUA()
		return depacketizeSTAPA(payload)

	case naluType == 28:
		return d.depacketizeFUA(seq, payload)

	default:
		return nil
	}
}

func (d *H264Depacketizer) resetFUA() {
	d.fuaBuf = nil
	d.inFUA = false
}

func depacketizeSTAPA(payload []byte) [][]byte {
	var nalus [][]byte
	offset := 1 // STAP-A header

	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			break
		}
		nalus = append(nalus, payload[offset:offset+size])
		offset += size
	}
	return nalus
}

func (d *H264Depacketizer) depacketizeFUA(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}

	fnri := payload[0] & 0xe0
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1f

	switch {
	case start:
		// NAL header is F+NRI from the indicator plus the type from the FU header.
		d.fuaBuf = append([]byte{fnri | naluType}, payload[2:]...)
		d.inFUA = true
	case !d.inFUA:
		return nil
	case seq != d.lastSeq+1:
		d.resetFUA()
		return nil
	default:
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
	}
	d.lastSeq = seq

	if !end {
		return nil
	}
	nalu := d.fuaBuf
	d.resetFUA()
	return [][]byte{nalu}
}
