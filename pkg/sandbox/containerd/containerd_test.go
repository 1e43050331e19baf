package containerd

import (
	"bytes"
	"io"
	"sync"
	"testing"
)

func TestWriteFrameThenReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	if err := writeFrame(&buf, &mu, frameInvokeReq, []byte("hello")); err != nil {
		t.Fatalf("writeFrame() error = %v", err)
	}
	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if got.tag != frameInvokeReq {
		t.Errorf("readFrame() tag = %q, want %q", got.tag, frameInvokeReq)
	}
	if string(got.body) != "hello" {
		t.Errorf("readFrame() body = %q, want %q", got.body, "hello")
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	if err := writeFrame(&buf, &mu, frameDeclare, nil); err != nil {
		t.Fatalf("writeFrame() error = %v", err)
	}
	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if len(got.body) != 0 {
		t.Errorf("readFrame() body = %v, want empty", got.body)
	}
}

func TestReadFrameTruncatedHeaderFails(t *testing.T) {
	buf := bytes.NewReader([]byte{'D', 0, 0})
	if _, err := readFrame(buf); err != io.ErrUnexpectedEOF && err != io.EOF {
		t.Errorf("readFrame() error = %v, want an EOF-family error", err)
	}
}

func TestShortHash(t *testing.T) {
	if got := shortHash("abcdefghijklmnop"); got != "abcdefghijkl" {
		t.Errorf("shortHash() = %q, want 12-char prefix", got)
	}
	if got := shortHash("short"); got != "short" {
		t.Errorf("shortHash() = %q, want unchanged short input", got)
	}
}
