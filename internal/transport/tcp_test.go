package transport

import (
	"bytes"
	"testing"
)

func TestEnqueueFraming(t *testing.T) {
	tcp := NewTCP(2)
	tcp.state = OK
	if err := tcp.Enqueue([]byte("hello")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	want := []byte{0, 5, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(tcp.sendBuf, want) {
		t.Errorf("sendBuf = %v, want %v", tcp.sendBuf, want)
	}
}

func TestExtractFramesPartial(t *testing.T) {
	buf := []byte{0, 3, 'a', 'b', 'c', 0, 2, 'd'}
	msgs := extractFrames(&buf)
	if len(msgs) != 1 || string(msgs[0]) != "abc" {
		t.Fatalf("msgs = %v", msgs)
	}
	if !bytes.Equal(buf, []byte{0, 2, 'd'}) {
		t.Errorf("remaining buf = %v, want partial second frame", buf)
	}
}

func TestExtractFramesMultiple(t *testing.T) {
	buf := []byte{0, 1, 'x', 0, 2, 'y', 'z'}
	msgs := extractFrames(&buf)
	if len(msgs) != 2 || string(msgs[0]) != "x" || string(msgs[1]) != "yz" {
		t.Fatalf("msgs = %v", msgs)
	}
	if len(buf) != 0 {
		t.Errorf("remaining buf = %v, want empty", buf)
	}
}

func TestWantWrite(t *testing.T) {
	tcp := NewTCP(1)
	if tcp.WantWrite() {
		t.Errorf("disconnected should not want write")
	}
	tcp.state = Connecting
	if !tcp.WantWrite() {
		t.Errorf("connecting should want write")
	}
	tcp.state = OK
	if tcp.WantWrite() {
		t.Errorf("ok with empty send buffer should not want write")
	}
	tcp.sendBuf = []byte{1}
	if !tcp.WantWrite() {
		t.Errorf("ok with pending send buffer should want write")
	}
}

func TestBreakRotatesServer(t *testing.T) {
	tcp := NewTCP(3)
	tcp.serverIndex = 2
	tcp.state = OK
	tcp.fd = -1 // avoid touching a real fd
	tcp.Break()
	if tcp.state != Disconnected {
		t.Errorf("state = %v, want Disconnected", tcp.state)
	}
	if tcp.serverIndex != 0 {
		t.Errorf("serverIndex = %d, want 0 (wrapped)", tcp.serverIndex)
	}
}
