package mpegts

import "testing"

func packetize(pid uint16, unitStart bool, payload []byte) []byte {
	pkt := make([]byte, PacketSize)
	pkt[0] = 0x47
	pkt[1] = byte(pid >> 8 & 0x1F)
	if unitStart {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid & 0xFF)
	pkt[3] = 0x10 // no adaptation field, payload only, continuity 0
	copy(pkt[4:], payload)
	return pkt
}

func buildPAT(pmtPID uint16) []byte {
	section := make([]byte, 0, 16)
	section = append(section, 0x00) // table_id
	// placeholder for section_length, filled below
	section = append(section, 0x00, 0x00)
	section = append(section, 0x00, 0x01) // transport_stream_id
	section = append(section, 0xC1)       // version/current_next
	section = append(section, 0x00)       // section_number
	section = append(section, 0x00)       // last_section_number
	// program loop: program_number=1, pid=pmtPID
	section = append(section, 0x00, 0x01)
	section = append(section, byte(0xE0|(pmtPID>>8)), byte(pmtPID&0xFF))
	section = append(section, 0, 0, 0, 0) // fake CRC

	sectionLength := len(section) - 3 + 0 // bytes after length field through CRC
	section[1] = byte(0xB0 | (sectionLength >> 8 & 0x0F))
	section[2] = byte(sectionLength & 0xFF)

	payload := append([]byte{0x00}, section...) // pointer_field = 0
	return payload
}

func buildPMT(videoPID uint16) []byte {
	section := make([]byte, 0, 24)
	section = append(section, 0x02) // table_id
	section = append(section, 0x00, 0x00)
	section = append(section, 0x00, 0x01) // program_number
	section = append(section, 0xC1)
	section = append(section, 0x00, 0x00)
	section = append(section, 0xE1, 0x00) // PCR PID = 0x100
	section = append(section, 0x00, 0x00) // program_info_length = 0
	// one ES: stream_type=H264, pid=videoPID, ES_info_length=0
	section = append(section, streamTypeH264)
	section = append(section, byte(0xE0|(videoPID>>8)), byte(videoPID&0xFF))
	section = append(section, 0x00, 0x00)
	section = append(section, 0, 0, 0, 0) // fake CRC

	sectionLength := len(section) - 3
	section[1] = byte(0xB0 | (sectionLength >> 8 & 0x0F))
	section[2] = byte(sectionLength & 0xFF)

	payload := append([]byte{0x00}, section...)
	return payload
}

func TestPrimerLearnsPATThenPMTThenSPSPPS(t *testing.T) {
	p := NewPrimer()
	videoPID := uint16(0x101)
	pmtPID := uint16(0x100)

	patPkt := packetize(patPID, true, buildPAT(pmtPID))
	events := p.Observe(patPkt)
	if len(events) != 1 || events[0].Kind != KindPAT {
		t.Fatalf("after PAT: events = %+v", events)
	}

	pmtPkt := packetize(pmtPID, true, buildPMT(videoPID))
	events = p.Observe(pmtPkt)
	if len(events) != 1 || events[0].Kind != KindPMT {
		t.Fatalf("after PMT: events = %+v", events)
	}
	if p.videoPID != videoPID {
		t.Fatalf("videoPID = %x, want %x", p.videoPID, videoPID)
	}

	// Video packet carrying an Annex-B SPS (type 7) then PPS (type 8).
	videoPayload := []byte{0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e, 0x00, 0x00, 0x01, 0x68, 0xce}
	videoPkt := packetize(videoPID, true, videoPayload)
	events = p.Observe(videoPkt)

	var sawSPS, sawPPS bool
	for _, e := range events {
		switch e.Kind {
		case KindSPS:
			sawSPS = true
		case KindPPS:
			sawPPS = true
		}
	}
	if !sawSPS || !sawPPS {
		t.Fatalf("events = %+v, want both SPS and PPS", events)
	}
}

func TestObserveIgnoresUnrelatedPIDsBeforePMTLearned(t *testing.T) {
	p := NewPrimer()
	pkt := packetize(0x200, true, []byte{0x00, 0x00, 0x01, 0x67})
	if events := p.Observe(pkt); len(events) != 0 {
		t.Errorf("events = %+v, want none before PMT PID is known", events)
	}
}

func TestParseHeaderRejectsBadSyncByte(t *testing.T) {
	pkt := make([]byte, PacketSize)
	pkt[0] = 0x00
	if _, ok := ParseHeader(pkt); ok {
		t.Error("ParseHeader should reject a packet without the 0x47 sync byte")
	}
}
