package tavusclient

// Conversation is the vendor session record returned by POST /conversations.
// Fields other than ConversationID and ConversationURL are display metadata and
// are passed through untouched.
type Conversation struct {
	ConversationID   string `json:"conversation_id"`
	ConversationURL  string `json:"conversation_url"`
	ConversationName string `json:"conversation_name,omitempty"`
	Status           string `json:"status,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
	PersonaID        string `json:"persona_id,omitempty"`
	ReplicaID        string `json:"replica_id,omitempty"`
	CallbackURL      string `json:"callback_url,omitempty"`
}

// CreateRequest is the body sent when starting a conversation. An empty
// PersonaID is replaced by the client's configured persona.
type CreateRequest struct {
	PersonaID             string `json:"persona_id"`
	ReplicaID             string `json:"replica_id,omitempty"`
	ConversationName      string `json:"conversation_name,omitempty"`
	CustomGreeting        string `json:"custom_greeting,omitempty"`
	ConversationalContext string `json:"conversational_context,omitempty"`
	CallbackURL           string `json:"callback_url,omitempty"`
}
