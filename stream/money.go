package stream

import "sort"

// DataMoneyStream is the per-stream state a STREAM connection tracks for
// one multiplexed stream id (spec.md §3.6): a combination money stream
// and data stream, since STREAM multiplexes both over the same id space.
type DataMoneyStream struct {
	ID uint64

	// Money side.
	SendMax      uint64 // most the local side is willing to send on this stream
	TotalSent    uint64
	ReceiveMax   uint64
	TotalReceived uint64

	// Data side.
	DataSendOffset uint64
	DataRecvOffset uint64

	// recvBuffer holds data-frame chunks that arrived ahead of
	// DataRecvOffset, keyed by their starting offset, until the gap
	// before them closes (spec.md §3.6, §4.9).
	recvBuffer map[uint64][]byte

	Closed bool
}

// ReceiveData merges an incoming StreamDataFrame chunk at offset into
// s's receive-side state, buffering it if it arrives out of order and
// draining every now-contiguous chunk once the gap at DataRecvOffset
// closes (spec.md §3.6 "incoming-data state per stream: {offset,
// out-of-order buffer keyed by offset}"; §4.9 "receiver buffers
// out-of-order chunks keyed by offset and releases them to the
// application in order"). The returned bytes are ready for delivery to
// the application, in order; nil means nothing became deliverable yet.
func (s *DataMoneyStream) ReceiveData(offset uint64, data []byte) []byte {
	if offset < s.DataRecvOffset {
		already := s.DataRecvOffset - offset
		if already >= uint64(len(data)) {
			return nil // fully-redelivered bytes already released
		}
		data = data[already:]
		offset = s.DataRecvOffset
	}

	if offset > s.DataRecvOffset {
		if len(data) == 0 {
			return nil
		}
		if s.recvBuffer == nil {
			s.recvBuffer = make(map[uint64][]byte)
		}
		s.recvBuffer[offset] = data
		return nil
	}

	released := append([]byte(nil), data...)
	s.DataRecvOffset += uint64(len(data))

	for {
		next, ok := s.recvBuffer[s.DataRecvOffset]
		if !ok {
			break
		}
		delete(s.recvBuffer, s.DataRecvOffset)
		released = append(released, next...)
		s.DataRecvOffset += uint64(len(next))
	}
	return released
}

// pendingSendMax is the amount this stream is still willing to send,
// used as the apportionment weight.
func (s *DataMoneyStream) pendingSendMax() uint64 {
	if s.TotalSent >= s.SendMax {
		return 0
	}
	return s.SendMax - s.TotalSent
}

// ApportionAmount splits a Prepare's total amount across open money
// streams, proportional to each stream's remaining send_max, with any
// remainder from integer division assigned to the lowest-numbered stream
// id (documented open-question decision: spec.md leaves the exact split
// algorithm unspecified beyond "split across streams"). Streams with no
// remaining send_max receive nothing. Returns nil if no stream has any
// capacity.
func ApportionAmount(totalAmount uint64, streams []*DataMoneyStream) map[uint64]uint64 {
	if totalAmount == 0 || len(streams) == 0 {
		return nil
	}

	ordered := make([]*DataMoneyStream, len(streams))
	copy(ordered, streams)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var totalPending uint64
	for _, s := range ordered {
		totalPending += s.pendingSendMax()
	}
	if totalPending == 0 {
		return nil
	}

	shares := make(map[uint64]uint64, len(ordered))
	var allocated uint64
	for _, s := range ordered {
		pending := s.pendingSendMax()
		if pending == 0 {
			continue
		}
		share := totalAmount * pending / totalPending
		shares[s.ID] = share
		allocated += share
	}

	if remainder := totalAmount - allocated; remainder > 0 {
		for _, s := range ordered {
			if s.pendingSendMax() > 0 {
				shares[s.ID] += remainder
				break
			}
		}
	}
	return shares
}
