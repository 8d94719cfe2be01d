package libpthread

// protocolVersion is carried in the hello exchange that opens every broker
// connection. The server refuses clients speaking a different version.
const protocolVersion = 1

// Broker operations. opHello must be the first frame on a connection; the
// rest operate on names (open, create) or on connection-scoped handles
// (post, wait, close).
const (
	opHello uint8 = iota + 1
	opOpen
	opCreate
	opPost
	opWait
	opClose
	opStat
	opNames
)

// Response statuses. They carry the native-layer outcome across the wire so
// the client-side adapter can apply the same error mapping a local handle
// would.
const (
	stOK uint8 = iota
	stNotFound
	stExists
	stLimit
	stOverflow
	stTimedOut
	stClosed
	stBusy
	stBadName
	stBadRequest
)

// request is one client frame. ID pairs it with its response so blocking
// waits can share the connection with other traffic.
type request struct {
	ID     uint64 `msgpack:"id"`
	Op     uint8  `msgpack:"op"`
	Handle uint64 `msgpack:"handle,omitempty"`
	Name   string `msgpack:"name,omitempty"`
	Value  uint32 `msgpack:"value,omitempty"`
	Excl   bool   `msgpack:"excl,omitempty"`

	// TimeoutMS bounds an opWait: negative blocks forever, zero polls.
	TimeoutMS int64 `msgpack:"timeout_ms,omitempty"`
}

// response is one server frame, matched to its request by ID.
type response struct {
	ID     uint64    `msgpack:"id"`
	Status uint8     `msgpack:"status"`
	Handle uint64    `msgpack:"handle,omitempty"`
	Sems   []SemInfo `msgpack:"sems,omitempty"`
	Err    string    `msgpack:"err,omitempty"`
}

// SemInfo describes one live named semaphore as reported by the broker.
type SemInfo struct {
	// Name is the raw name, without the internal namespace prefix.
	Name string `msgpack:"name"`
	// Count is the number of available tokens at the time of the report.
	Count int `msgpack:"count"`
	// Refs is the number of open handles on the object.
	Refs int `msgpack:"refs"`
}
