package schema

// SurfaceCommandName names a command sent by an attached surface over the
// websocket transport.
type SurfaceCommandName string

const (
	CommandGetState   SurfaceCommandName = "get-state"
	CommandStart      SurfaceCommandName = "start-recording"
	CommandStop       SurfaceCommandName = "stop-recording"
	CommandToggle     SurfaceCommandName = "toggle-recording"
	CommandSummarize  SurfaceCommandName = "request-summary"
	CommandReload     SurfaceCommandName = "reload-credential"
	CommandOpenWindow SurfaceCommandName = "open-window"
)

// SurfaceCommand is a request from a surface. ID is echoed in the reply.
type SurfaceCommand struct {
	ID      string             `json:"id,omitempty"`
	Command SurfaceCommandName `json:"command"`
	Source  string             `json:"source,omitempty"`
	Force   bool               `json:"force,omitempty"`
}

// SurfaceReplyType is the type of a command reply frame. It never collides
// with an EventType.
const SurfaceReplyType = "command-reply"

// SurfaceReply answers a SurfaceCommand.
type SurfaceReply struct {
	Type    string             `json:"type"`
	ID      string             `json:"id,omitempty"`
	Command SurfaceCommandName `json:"command"`
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
	Data    any                `json:"data,omitempty"`
}
