package interview

import (
	"strings"

	"github.com/wolfman30/mockinterview/internal/tavusclient"
)

// Settings are per-session overrides of the configured interview. Blank
// fields keep the configured value.
type Settings struct {
	PersonaID        string `json:"persona_id,omitempty"`
	ConversationName string `json:"conversation_name,omitempty"`
	Greeting         string `json:"custom_greeting,omitempty"`
	Context          string `json:"conversational_context,omitempty"`
}

// Apply returns req with the non-blank settings applied.
func (s Settings) Apply(req tavusclient.CreateRequest) tavusclient.CreateRequest {
	if v := strings.TrimSpace(s.PersonaID); v != "" {
		req.PersonaID = v
	}
	if v := strings.TrimSpace(s.ConversationName); v != "" {
		req.ConversationName = v
	}
	if v := strings.TrimSpace(s.Greeting); v != "" {
		req.CustomGreeting = v
	}
	if v := strings.TrimSpace(s.Context); v != "" {
		req.ConversationalContext = v
	}
	return req
}
