// Package fileclient implements the replication engine's half of the
// length-framed file delivery wire protocol: connect to a remote worker's
// file server, request one partitioned file by name, and either read its
// bytes or only its metadata.
//
// Every message on the wire is a 4-byte big-endian length prefix followed
// by that many bytes of JSON payload, grounded on the original FileClient's
// boost::asio framing (a uint32 length frame, then a serialized message)
// with JSON standing in for the protobuf wire format that isn't part of
// this module's dependency surface.
package fileclient

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// request is the open/stat message sent to the remote file server.
type request struct {
	Database    string `json:"database"`
	File        string `json:"file"`
	SendContent bool   `json:"send_content"`
}

// response is the server's reply to a request.
type response struct {
	Available bool  `json:"available"`
	Size      int64 `json:"size"`
	Mtime     int64 `json:"mtime"`
}

// Client is a single file transfer session. It is not safe for concurrent
// use.
type Client struct {
	conn        net.Conn
	worker      string
	database    string
	file        string
	readContent bool
	size        int64
	mtime       int64
	eof         bool
}

const dialTimeout = 10 * time.Second

// Open connects to addr and opens file for reading its content. The
// returned Client's Read method streams the file body.
func Open(addr, database, file string) (*Client, error) {
	return connect(addr, database, file, true)
}

// Stat connects to addr and queries file's size and modification time
// without transferring its content. Calling Read on the result always
// fails.
func Stat(addr, database, file string) (*Client, error) {
	return connect(addr, database, file, false)
}

func connect(addr, database, file string, readContent bool) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("fileclient: dialing %s: %w", addr, err)
	}
	c := &Client{conn: conn, worker: addr, database: database, file: file, readContent: readContent}

	if err := c.writeFrame(request{Database: database, File: file, SendContent: readContent}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("fileclient: sending open request for %s/%s to %s: %w", database, file, addr, err)
	}

	var resp response
	if err := c.readFrame(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("fileclient: reading open response for %s/%s from %s: %w", database, file, addr, err)
	}
	if !resp.Available {
		conn.Close()
		return nil, fmt.Errorf("fileclient: %s/%s not available on %s", database, file, addr)
	}
	c.size = resp.Size
	c.mtime = resp.Mtime
	return c, nil
}

// Worker returns the remote address the file is being pulled from.
func (c *Client) Worker() string { return c.worker }

// Database returns the database the file belongs to.
func (c *Client) Database() string { return c.database }

// File returns the short file name being transferred.
func (c *Client) File() string { return c.file }

// Size returns the file size reported by the server.
func (c *Client) Size() int64 { return c.size }

// Mtime returns the file's modification time reported by the server, as a
// Unix timestamp.
func (c *Client) Mtime() int64 { return c.mtime }

// Read reads up to len(buf) bytes of file content. It returns (0, nil)
// once the end of the stream has been reached, matching the original
// read() contract of returning zero rather than io.EOF so callers can
// treat exhaustion as an ordinary loop condition.
func (c *Client) Read(buf []byte) (int, error) {
	if !c.readContent {
		return 0, fmt.Errorf("fileclient: %s/%s was opened in stat mode, cannot read content", c.database, c.file)
	}
	if len(buf) == 0 {
		return 0, fmt.Errorf("fileclient: zero-length read buffer")
	}
	if c.eof {
		return 0, nil
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		if err == io.EOF {
			c.eof = true
			return n, nil
		}
		return n, fmt.Errorf("fileclient: reading %s/%s from %s: %w", c.database, c.file, c.worker, err)
	}
	if n == 0 {
		c.eof = true
	}
	return n, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) writeFrame(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return err
	}
	_, err = c.conn.Write(payload)
	return err
}

func (c *Client) readFrame(v any) error {
	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}
