package stream

import (
	"fmt"
	"sync"
)

// Connection holds per-connection STREAM state shared by a sender or
// receiver (spec.md §3.6): the monotonically increasing packet sequence,
// the set of multiplexed data/money streams, and connection-level flow
// control limits.
type Connection struct {
	SharedSecret []byte

	mu                  sync.Mutex
	nextPacketSequence  uint64
	streams             map[uint64]*DataMoneyStream
	nextLocalStreamID   uint64 // STREAM ids are caller-allocated, odd/even by role
	maxReceivableOffset uint64
	totalReceivedOffset uint64
}

// NewConnection starts a connection with next_packet_sequence = 1
// (spec.md §3.6: "sequence numbers start at 1, never reused").
// firstStreamID selects the caller's half of the id space: clients use
// odd stream ids, servers use even, mirroring the teacher's client/server
// role split conventions elsewhere in the codebase.
func NewConnection(sharedSecret []byte, firstStreamID uint64) *Connection {
	return &Connection{
		SharedSecret:       sharedSecret,
		nextPacketSequence: 1,
		streams:            make(map[uint64]*DataMoneyStream),
		nextLocalStreamID:  firstStreamID,
	}
}

// NextSequence returns the next packet sequence number and advances the
// counter. Sequence numbers must be strictly increasing and are never
// reused for the lifetime of the connection (spec.md §8).
func (c *Connection) NextSequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.nextPacketSequence
	c.nextPacketSequence++
	return seq
}

// OpenStream allocates a new DataMoneyStream, stepping the local stream
// id by 2 to stay within this side's half of the id space.
func (c *Connection) OpenStream() *DataMoneyStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextLocalStreamID
	c.nextLocalStreamID += 2
	s := &DataMoneyStream{ID: id}
	c.streams[id] = s
	return s
}

// Stream returns the stream for id, creating it (as a peer-initiated
// stream) if this is the first frame mentioning it.
func (c *Connection) Stream(id uint64) *DataMoneyStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	if !ok {
		s = &DataMoneyStream{ID: id}
		c.streams[id] = s
	}
	return s
}

// OpenStreams returns every non-closed stream, used as apportionment
// input when building an outgoing Prepare.
func (c *Connection) OpenStreams() []*DataMoneyStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*DataMoneyStream
	for _, s := range c.streams {
		if !s.Closed {
			out = append(out, s)
		}
	}
	return out
}

// ReceiveDataFrame applies a decoded StreamDataFrame to its stream's
// receive-side reassembly buffer (creating the stream if this is the
// first frame mentioning it) and returns the data now ready for the
// application, in order. A nil result means f was buffered pending an
// earlier gap and nothing new became deliverable.
func (c *Connection) ReceiveDataFrame(f StreamDataFrame) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[f.StreamID]
	if !ok {
		s = &DataMoneyStream{ID: f.StreamID}
		c.streams[f.StreamID] = s
	}
	return s.ReceiveData(f.Offset, f.Data)
}

// RecordSent applies amount to stream's accounting after a Fulfill is
// received for a packet apportioned against it.
func (c *Connection) RecordSent(streamID, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.streams[streamID]; ok {
		s.TotalSent += amount
	}
}

// BuildMoneyPacket constructs the next outgoing STREAM packet carrying a
// StreamMoneyFrame per apportioned stream for totalAmount, ready to be
// encrypted via EncryptedPacket.
func (c *Connection) BuildMoneyPacket(totalAmount uint64) (*Packet, map[uint64]uint64, error) {
	shares := ApportionAmount(totalAmount, c.OpenStreams())
	if shares == nil && totalAmount > 0 {
		return nil, nil, fmt.Errorf("stream: no stream has capacity for amount %d", totalAmount)
	}
	p := &Packet{
		Sequence:      c.NextSequence(),
		Type:          PacketTypePrepare,
		PrepareAmount: totalAmount,
	}
	for id, share := range shares {
		p.Frames = append(p.Frames, StreamMoneyFrame{StreamID: id, Shares: share})
	}
	return p, shares, nil
}
