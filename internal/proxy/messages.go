package proxy

// Request kinds accepted from the UI.
const (
	TypeSetAPIKey          = "set_api_key"
	TypeCreateConversation = "create_conversation"
	TypeEndConversation    = "end_conversation"
	TypePing               = "ping"
)

// Response kinds sent back to the UI.
const (
	TypeAPIKeySet       = "api_key_set"
	TypeCreateStarted   = "create_started"
	TypeCreateSucceeded = "create_succeeded"
	TypeCreateFailed    = "create_failed"
	TypeEndStarted      = "end_started"
	TypeEndSucceeded    = "end_succeeded"
	TypeEndFailed       = "end_failed"
	TypeError           = "error"
	TypePong            = "pong"
)

const (
	msgAPIKeyNotSet  = "API key not set"
	msgNothingToEnd  = "No conversation to end"
	msgEnded         = "Conversation ended successfully"
	msgAlreadyActive = "A conversation is already active"
	msgProxyClosed   = "proxy closed"
)

// Request is a message from the UI.
type Request struct {
	Type             string `json:"type"`
	APIKey           string `json:"api_key,omitempty"`
	ConversationName string `json:"conversation_name,omitempty"`
	ConversationID   string `json:"conversation_id,omitempty"`
}

// Response is a message to the UI. Responses to create and end arrive in the
// order the vendor calls settle; the type names which request they answer.
type Response struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// EndResult is the data of an end_succeeded response.
type EndResult struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}
