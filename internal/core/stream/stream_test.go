package stream

import (
	"testing"
)

func tsPacket(pid uint16, unitStart bool, payload []byte) []byte {
	pkt := make([]byte, 188)
	pkt[0] = 0x47
	pkt[1] = byte(pid >> 8 & 0x1F)
	if unitStart {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid & 0xFF)
	pkt[3] = 0x10
	copy(pkt[4:], payload)
	return pkt
}

func buildPAT(pmtPID uint16) []byte {
	section := []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0xC1, 0x00, 0x00}
	section = append(section, 0x00, 0x01, byte(0xE0|(pmtPID>>8)), byte(pmtPID&0xFF))
	section = append(section, 0, 0, 0, 0)
	sectionLength := len(section) - 3
	section[1] = byte(0xB0 | (sectionLength >> 8 & 0x0F))
	section[2] = byte(sectionLength & 0xFF)
	return append([]byte{0x00}, section...)
}

func buildPMT(videoPID uint16) []byte {
	section := []byte{0x02, 0x00, 0x00, 0x00, 0x01, 0xC1, 0x00, 0x00, 0xE1, 0x00, 0x00, 0x00}
	section = append(section, 0x1B, byte(0xE0|(videoPID>>8)), byte(videoPID&0xFF), 0x00, 0x00)
	section = append(section, 0, 0, 0, 0)
	sectionLength := len(section) - 3
	section[1] = byte(0xB0 | (sectionLength >> 8 & 0x0F))
	section[2] = byte(sectionLength & 0xFF)
	return append([]byte{0x00}, section...)
}

func TestStreamWriteCachesPrimingInOrder(t *testing.T) {
	s := NewStream(NewKey("publish.example", "live", "demo"), 64*1024)

	pmtPID := uint16(0x100)
	videoPID := uint16(0x101)

	datagram := append([]byte{}, tsPacket(0x0000, true, buildPAT(pmtPID))...)
	datagram = append(datagram, tsPacket(pmtPID, true, buildPMT(videoPID))...)
	spsPPS := []byte{0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e, 0x00, 0x00, 0x01, 0x68, 0xce}
	datagram = append(datagram, tsPacket(videoPID, true, spsPPS)...)

	if err := s.Write(datagram); err != nil {
		t.Fatalf("Write: %v", err)
	}

	priming := s.Priming()
	if len(priming) != 4 {
		t.Fatalf("Priming() returned %d packets, want 4 (PAT, PMT, SPS, PPS)", len(priming))
	}
	// Order must be PAT, PMT, SPS, PPS.
	if priming[0][1]&0x1F != 0x00 {
		t.Errorf("first cached packet should be the PAT (pid 0)")
	}
}

func TestPrimingCachedBeforeLiveWrite(t *testing.T) {
	s := NewStream(NewKey("publish.example", "live", "demo"), 64*1024)

	pmtPID := uint16(0x100)
	videoPID := uint16(0x101)
	datagram := append([]byte{}, tsPacket(0x0000, true, buildPAT(pmtPID))...)
	datagram = append(datagram, tsPacket(pmtPID, true, buildPMT(videoPID))...)
	_ = s.Write(datagram)

	// A late joiner should be handed the cached priming packets by whatever
	// sends to its cursor before switching to live reads — that assembly
	// happens in the Role layer, but the cache itself must be available.
	priming := s.Priming()
	if len(priming) != 2 {
		t.Fatalf("Priming() = %d packets, want 2 (PAT, PMT)", len(priming))
	}

	live := []byte("livebytes")
	if err := s.Write(live); err != nil {
		t.Fatalf("Write live: %v", err)
	}
}

func TestWriteAdvancesLastWriteMonoMS(t *testing.T) {
	s := NewStream(NewKey("h", "a", "n"), 4096)
	if s.LastWriteMonoMS() != 0 {
		t.Fatal("fresh stream should report no writes yet")
	}
	_ = s.Write([]byte("x"))
	if s.LastWriteMonoMS() == 0 {
		t.Error("LastWriteMonoMS should advance after a write")
	}
}

func TestDetachPublisherClearsPrimingCache(t *testing.T) {
	s := NewStream(NewKey("h", "a", "n"), 4096)
	pub := &fakePublisher{id: 1}
	s.AttachPublisher(pub)

	datagram := tsPacket(0x0000, true, buildPAT(0x100))
	_ = s.Write(datagram)
	if len(s.Priming()) == 0 {
		t.Fatal("expected at least the PAT to be cached")
	}

	s.DetachPublisher(pub, nil)
	if len(s.Priming()) != 0 {
		t.Error("priming cache should be cleared when the publisher detaches")
	}
}
