package wire

// Role identifies which side of the overlay a peer is authenticating as.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
)

// AuthPayload is the payload of a type=auth envelope: the first message
// every peer must send after connecting.
type AuthPayload struct {
	Token string `json:"token"`
	Role  Role   `json:"role"`
}

// Command identifies which operation a type=command envelope requests.
type Command string

const (
	CommandListProjects       Command = "list_projects"
	CommandListSessions       Command = "list_sessions"
	CommandStartSession       Command = "start_session"
	CommandSendInput          Command = "send_input"
	CommandCloseSession       Command = "close_session"
	CommandKeepalive          Command = "keepalive"
	CommandGetSessionHistory  Command = "get_session_history"
	CommandGetLastOutput      Command = "get_last_session_output"
	CommandUploadFile         Command = "upload_file"
)

// CommandPayload is the payload of a type=command envelope. Fields are
// interpreted per Command; unused fields are left zero.
type CommandPayload struct {
	Command     Command `json:"command"`
	ProjectID   string  `json:"projectId,omitempty"`
	SessionID   string  `json:"sessionId,omitempty"`
	Input       string  `json:"input,omitempty"`
	FileName    string  `json:"fileName,omitempty"`
	FileContent string  `json:"fileContent,omitempty"` // base64
	MimeType    string  `json:"mimeType,omitempty"`
}

// OutputPayload is the payload of a type=output envelope: a raw chunk
// of PTY bytes for a session.
type OutputPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

// StatusKind enumerates the values the "status" field of a status
// envelope's payload may take.
type StatusKind string

const (
	StatusConnected         StatusKind = "connected"
	StatusDisconnected      StatusKind = "disconnected"
	StatusSessionStarted    StatusKind = "session_started"
	StatusSessionClosed     StatusKind = "session_closed"
	StatusProjectsList      StatusKind = "projects_list"
	StatusSessionsList      StatusKind = "sessions_list"
	StatusSessionHistory    StatusKind = "session_history"
	StatusLastSessionOutput StatusKind = "last_session_output"
	StatusFileUploaded      StatusKind = "file_uploaded"
	StatusContextSummary    StatusKind = "context_summary"
)

// StatusPayload is the payload of a type=status envelope.
type StatusPayload struct {
	Status    StatusKind `json:"status"`
	Data      any        `json:"data,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
}

// ConnectedData is the data of the per-peer status{connected} reply
// sent immediately after successful auth.
type ConnectedData struct {
	Role           Role `json:"role"`
	AgentConnected bool `json:"agentConnected"`
}

// AgentStatusReason enumerates the data.reason values of the
// status{connected|disconnected} envelope broadcast to every Client
// when the Agent binds to or releases from the Relay.
type AgentStatusReason string

const (
	ReasonAgentConnected    AgentStatusReason = "agent_connected"
	ReasonAgentDisconnected AgentStatusReason = "agent_disconnected"
)

// AgentStatusData is the data of the Agent-bind/release broadcast.
type AgentStatusData struct {
	Reason AgentStatusReason `json:"reason"`
}

// ErrorCode enumerates the defined error codes carried by error envelopes.
type ErrorCode string

const (
	ErrInvalidJSON       ErrorCode = "INVALID_JSON"
	ErrAuthFailed        ErrorCode = "AUTH_FAILED"
	ErrNotAuthenticated  ErrorCode = "NOT_AUTHENTICATED"
	ErrAgentExists       ErrorCode = "AGENT_EXISTS"
	ErrInvalidRole       ErrorCode = "INVALID_ROLE"
	ErrNoAgent           ErrorCode = "NO_AGENT"
	ErrUnknownCommand    ErrorCode = "UNKNOWN_COMMAND"
	ErrProjectNotFound   ErrorCode = "PROJECT_NOT_FOUND"
	ErrMissingProjectID  ErrorCode = "MISSING_PROJECT_ID"
	ErrMissingSessionID  ErrorCode = "MISSING_SESSION_ID"
	ErrMissingInput      ErrorCode = "MISSING_INPUT"
	ErrSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrMissingFileData   ErrorCode = "MISSING_FILE_DATA"
	ErrUploadFailed      ErrorCode = "UPLOAD_FAILED"
	ErrNoSessionManager  ErrorCode = "NO_SESSION_MANAGER"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
)

// ErrorPayload is the payload of a type=error envelope.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Close codes used when terminating a WebSocket connection, per the
// wire contract's close-code table.
const (
	CloseAuthFailed   = 4001
	CloseAgentExists  = 4002
	CloseInvalidRole  = 4003
)
