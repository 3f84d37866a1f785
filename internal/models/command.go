package models

import "encoding/json"

// CommandAction 命令动作
type CommandAction string

const (
	ActionStart        CommandAction = "start"
	ActionStop         CommandAction = "stop"
	ActionPause        CommandAction = "pause"
	ActionResume       CommandAction = "resume"
	ActionUpdateConfig CommandAction = "update_config"
)

// Command is the inbound control message, one channel per bot id.
type Command struct {
	Version string          `json:"version"`
	ID      string          `json:"id"`
	BotID   string          `json:"botId"`
	Action  CommandAction   `json:"action"`
	TS      int64           `json:"ts"`
	Payload *CommandPayload `json:"payload,omitempty"`
}

// CommandPayload carries a full config replacement for update_config.
type CommandPayload struct {
	Config *BotConfig `json:"config,omitempty"`
}

// ParseCommand decodes a command. Malformed JSON, a foreign version or a missing
// id/botId/action reports false; unknown actions are passed through.
func ParseCommand(raw []byte) (Command, bool) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, false
	}
	if cmd.Version != ProtocolVersion || cmd.ID == "" || cmd.BotID == "" || cmd.Action == "" {
		return Command{}, false
	}
	return cmd, true
}
