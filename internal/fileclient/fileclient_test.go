package fileclient

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"
)

// serveOnce accepts a single connection, reads the open request, and
// replies as a minimal stand-in for the remote file server: available
// with the given size/mtime, optionally streaming body before closing.
func serveOnce(t *testing.T, ln net.Listener, body []byte, available bool) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		t.Errorf("reading request frame header: %v", err)
		return
	}
	n := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Errorf("reading request payload: %v", err)
		return
	}
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Errorf("unmarshalling request: %v", err)
		return
	}

	resp := response{Available: available, Size: int64(len(body)), Mtime: 1700000000}
	out, _ := json.Marshal(resp)
	var respHeader [4]byte
	binary.BigEndian.PutUint32(respHeader[:], uint32(len(out)))
	conn.Write(respHeader[:])
	conn.Write(out)

	if available && req.SendContent && len(body) > 0 {
		conn.Write(body)
	}
}

func TestOpenAndReadStreamsBody(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	body := []byte("row1\trow2\trow3\n")
	go serveOnce(t, ln, body, true)

	c, err := Open(ln.Addr().String(), "myDb", "Object_123.tsv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if c.Size() != int64(len(body)) {
		t.Errorf("expected size %d, got %d", len(body), c.Size())
	}

	buf := make([]byte, 64)
	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := c.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != string(body) {
		t.Errorf("expected body %q, got %q", body, got)
	}
}

func TestStatModeRejectsRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go serveOnce(t, ln, []byte("ignored"), true)

	c, err := Stat(ln.Addr().String(), "myDb", "Object_123.tsv")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	defer c.Close()

	buf := make([]byte, 8)
	if _, err := c.Read(buf); err == nil {
		t.Error("expected Read to fail in stat mode")
	}
}

func TestOpenUnavailableFileErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go serveOnce(t, ln, nil, false)

	if _, err := Open(ln.Addr().String(), "myDb", "missing.tsv"); err == nil {
		t.Error("expected error opening an unavailable file")
	}
}
