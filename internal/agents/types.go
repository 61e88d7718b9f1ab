package agents

// Run statuses reported by the remote API
const (
	RunQueued         = "queued"
	RunInProgress     = "in_progress"
	RunRequiresAction = "requires_action"
	RunCompleted      = "completed"
	RunFailed         = "failed"
	RunCancelled      = "cancelled"
	RunExpired        = "expired"
)

// File statuses reported by the remote API
const (
	FileStatusUploaded  = "uploaded"
	FileStatusProcessed = "processed"
	FileStatusError     = "error"
)

// Thread is a remote conversation thread
type Thread struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ThreadList is one page of the thread listing
type ThreadList struct {
	Data    []Thread `json:"data"`
	HasMore bool     `json:"has_more"`
	LastID  string   `json:"last_id"`
}

// MessageText holds the text value of a content block
type MessageText struct {
	Value string `json:"value"`
}

// MessageContent is one content block of a message
type MessageContent struct {
	Type string       `json:"type"`
	Text *MessageText `json:"text,omitempty"`
}

// Message is a thread message. Listings are newest-first.
type Message struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"thread_id"`
	Role        string           `json:"role"`
	CreatedAt   int64            `json:"created_at"`
	Content     []MessageContent `json:"content"`
	Attachments []Attachment     `json:"attachments,omitempty"`
}

// Text returns the concatenated text content of a message
func (m Message) Text() string {
	var out string
	for _, c := range m.Content {
		if c.Text != nil {
			out += c.Text.Value
		}
	}
	return out
}

// Attachment references an uploaded file on a message
type Attachment struct {
	FileID string `json:"file_id"`
}

// MessageList is one page of a thread's messages
type MessageList struct {
	Data    []Message `json:"data"`
	HasMore bool      `json:"has_more"`
	LastID  string    `json:"last_id"`
}

// RunError carries the failure detail of a terminal run
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Usage reports token consumption for a completed run
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// ToolCall identifies the sub-expert the remote side dispatched to
type ToolCall struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

// RequiredAction is present while the run waits on a tool dispatch
type RequiredAction struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []ToolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

// Run is one execution of the configured agent against a thread
type Run struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	AssistantID    string          `json:"assistant_id"`
	Status         string          `json:"status"`
	LastError      *RunError       `json:"last_error,omitempty"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
}

// Terminal reports whether the run reached a final state
func (r Run) Terminal() bool {
	switch r.Status {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	}
	return false
}

// File is remote file metadata
type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
	Status   string `json:"status"`
}
