package ring

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(64, 8, 4)
	c := b.NewCursor(Latest())

	if err := b.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := make([]byte, 16)
	n, err := b.Read(c, out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(out[:n], []byte("hello")) {
		t.Errorf("Read() = %q, want %q", out[:n], "hello")
	}

	if _, err := b.Read(c, out); err != ErrEmpty {
		t.Errorf("second Read() = %v, want ErrEmpty", err)
	}
}

func TestWriteTooLarge(t *testing.T) {
	b := New(16, 2, 2)
	err := b.Write(make([]byte, 17))
	if err != ErrWouldOverrun {
		t.Errorf("Write() = %v, want ErrWouldOverrun", err)
	}
}

func TestWriterNeverBlocksOnSlowReader(t *testing.T) {
	b := New(32, 4, 4)
	c := b.NewCursor(Latest())

	for i := 0; i < 100; i++ {
		if err := b.Write([]byte{byte(i)}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	out := make([]byte, 1)
	_, err := b.Read(c, out)
	if err != ErrOverrun {
		t.Fatalf("Read() = %v, want ErrOverrun after writer lapped reader", err)
	}
}

func TestOverrunResetsToSkipToLiveGap(t *testing.T) {
	b := New(16, 2, 3)
	c := b.NewCursor(Latest())

	for i := 0; i < 20; i++ {
		_ = b.Write([]byte{byte(i)})
	}

	out := make([]byte, 1)
	if _, err := b.Read(c, out); err != ErrOverrun {
		t.Fatalf("Read() = %v, want ErrOverrun", err)
	}

	if got, want := b.Head()-c.Position(), uint64(3); got != want {
		t.Errorf("cursor lag after overrun reset = %d, want %d", got, want)
	}

	// Subsequent reads succeed without another overrun.
	n, err := b.Read(c, out)
	if err != nil {
		t.Fatalf("Read after reset: %v", err)
	}
	if n != 1 {
		t.Errorf("Read() n = %d, want 1", n)
	}
}

func TestRewindClampsToOldestRetainedByte(t *testing.T) {
	b := New(8, 1, 1)
	for i := 0; i < 4; i++ {
		_ = b.Write([]byte{byte(i)})
	}

	c := b.NewCursor(Rewind(1000))
	if c.Position() != 0 {
		t.Errorf("Rewind far past start should clamp to 0, got %d", c.Position())
	}
}

func TestWraparoundSplitCopy(t *testing.T) {
	b := New(8, 1, 1)
	_ = b.Write([]byte{1, 2, 3, 4, 5, 6})
	c := b.NewCursor(Rewind(6))

	out := make([]byte, 6)
	if _, err := b.Read(c, out); err != nil {
		t.Fatalf("Read: %v", err)
	}

	// Write again so the next write wraps around the backing array.
	if err := b.Write([]byte{7, 8, 9, 10}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out2 := make([]byte, 4)
	n, err := b.Read(c, out2)
	if err != nil {
		t.Fatalf("Read after wrap: %v", err)
	}
	if !bytes.Equal(out2[:n], []byte{7, 8, 9, 10}) {
		t.Errorf("Read after wrap = %v, want [7 8 9 10]", out2[:n])
	}
}

func TestMultipleIndependentCursors(t *testing.T) {
	b := New(32, 4, 4)
	_ = b.Write([]byte("abc"))

	slow := b.NewCursor(Rewind(3))
	fast := b.NewCursor(Latest())

	_ = b.Write([]byte("def"))

	out := make([]byte, 16)
	n, _ := b.Read(slow, out)
	if !bytes.Equal(out[:n], []byte("abcdef")) {
		t.Errorf("slow cursor = %q, want %q", out[:n], "abcdef")
	}

	n, _ = b.Read(fast, out)
	if !bytes.Equal(out[:n], []byte("def")) {
		t.Errorf("fast cursor = %q, want %q", out[:n], "def")
	}
}
