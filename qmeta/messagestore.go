package qmeta

import (
	"sync"

	"github.com/jonathansick-shadow/qserv/common"
)

// Message is a single (code, text) diagnostic entry.
type Message struct {
	Code common.Code
	Text string
}

// MessageStore accumulates diagnostic messages for one UserQuery and
// exposes the count/indexed-retrieval/append operations named in spec §6.3
// and concretely shown by original_source/master/src/queryMsg.cc
// (queryMsgGetCount / queryMsgGetMsg / queryMsgAddMsg).
type MessageStore struct {
	mu       sync.Mutex
	messages []Message
}

// NewMessageStore returns an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// Add appends a (code, message) pair. Equivalent to queryMsgAddMsg.
func (s *MessageStore) Add(code common.Code, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Code: code, Text: msg})
}

// Count returns the number of stored messages. Equivalent to queryMsgGetCount.
func (s *MessageStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Get returns the message at idx. Equivalent to queryMsgGetMsg; ok is false
// for an out-of-range idx (the original returns code -1, "Invalid Message").
func (s *MessageStore) Get(idx int) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.messages) {
		return Message{Code: -1, Text: "Invalid Message"}, false
	}
	return s.messages[idx], true
}

// Concatenated joins every stored message text, used to build the single
// user-visible failure string described in spec §7.
func (s *MessageStore) Concatenated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := ""
	for i, m := range s.messages {
		if i > 0 {
			out += "; "
		}
		out += m.Text
	}
	return out
}
