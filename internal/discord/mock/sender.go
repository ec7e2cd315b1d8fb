// Package mock provides test doubles for the Discord layer.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentMessage is one recorded send.
type SentMessage struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

// Sender records every message and can fail scripted calls. It is safe for
// concurrent use.
type Sender struct {
	mu sync.Mutex

	// Errs is consumed one entry per call; a nil entry means success.
	Errs []error

	// Calls counts every send attempt, failed ones included.
	Calls int

	sent []SentMessage
}

// ChannelMessageSendComplex records data and returns the next scripted
// error.
func (s *Sender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if len(s.Errs) > 0 {
		err := s.Errs[0]
		s.Errs = s.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	s.sent = append(s.sent, SentMessage{ChannelID: channelID, Message: data})
	return &discordgo.Message{ID: "mock-message", ChannelID: channelID, Content: data.Content}, nil
}

// Sent returns a copy of the successfully sent messages.
func (s *Sender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// Last returns the most recent successful message, or nil.
func (s *Sender) Last() *discordgo.MessageSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1].Message
}

// Texts returns the content, or the first embed's title, of every sent
// message.
func (s *Sender) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		switch {
		case m.Message.Content != "":
			out = append(out, m.Message.Content)
		case len(m.Message.Embeds) > 0:
			out = append(out, m.Message.Embeds[0].Title)
		default:
			out = append(out, "")
		}
	}
	return out
}

// Reset clears recorded messages and scripted errors.
func (s *Sender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
	s.Errs = nil
	s.Calls = 0
}
