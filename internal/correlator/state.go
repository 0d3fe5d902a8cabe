package correlator

import (
	"math/rand"
	"sync"

	"grimm.is/brcompat/internal/attr"
)

// Reply is a correlated reply handed to the caller.
type Reply struct {
	Sequence uint32
	Attrs    attr.Attrs
}

// State is the pending call state shared by the calling side and the reply
// side. All fields are guarded by mu, which is only ever held around field
// updates.
type State struct {
	mu    sync.Mutex
	seq   uint32
	done  chan struct{}
	reply *Reply
}

// NewState creates pending call state starting at a random sequence.
func NewState() *State {
	return NewStateAt(rand.Uint32())
}

// NewStateAt creates pending call state starting at seq. The first call
// is stamped seq+1.
func NewStateAt(seq uint32) *State {
	return &State{seq: seq}
}

// Sequence returns the current sequence number.
func (s *State) Sequence() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// arm advances the sequence for a new call, re-arms the completion signal
// and clears any leftover reply.
func (s *State) arm() (uint32, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.done = make(chan struct{})
	s.reply = nil
	return s.seq, s.done
}

// accept stores reply if a call is waiting and the reply carries its
// sequence. Once a call has completed nothing matches until the next arm.
func (s *State) accept(reply *Reply) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil || reply.Sequence != s.seq {
		return false
	}
	s.seq++
	s.reply = reply
	close(s.done)
	s.done = nil
	return true
}

// take hands the stored reply to the caller.
func (s *State) take() *Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reply
	s.reply = nil
	return r
}

// abandon ends the call stamped seq without a reply. If the call is still
// pending the sequence is advanced past it so a late reply is stale. If a
// reply slipped in first it is returned.
func (s *State) abandon(seq uint32) *Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = nil
	if s.seq == seq {
		s.seq++
		return nil
	}
	r := s.reply
	s.reply = nil
	return r
}
