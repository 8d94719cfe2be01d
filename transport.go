package libpthread

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize bounds a single broker frame. Requests and responses are
// small control messages; a longer length prefix means a corrupt stream.
const maxFrameSize = 64 * 1024

// serializer converts between Go values and frame payloads.
type serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type msgpackSerializer struct{}

func (msgpackSerializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackSerializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// transport frames messages over a stream connection with a 4-byte
// big-endian length prefix. Sends are serialized by a mutex so goroutines
// answering different requests can share one connection; receiving is the
// owner's single reader loop.
type transport struct {
	conn net.Conn
	enc  serializer
	r    *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer
}

func newTransport(conn net.Conn) *transport {
	return &transport{
		conn: conn,
		enc:  msgpackSerializer{},
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

func (t *transport) send(v interface{}) error {
	data, err := t.enc.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(data))
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.w.Write(length[:]); err != nil {
		return err
	}
	if _, err := t.w.Write(data); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *transport) receive(v interface{}) error {
	var length [4]byte
	if _, err := io.ReadFull(t.r, length[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(t.r, data); err != nil {
		return err
	}
	return t.enc.Unmarshal(data, v)
}

func (t *transport) close() error {
	return t.conn.Close()
}
