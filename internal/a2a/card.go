package a2a

// ProtocolVersion is the A2A protocol revision this build speaks.
const ProtocolVersion = "1.0"

// AgentStatus reflects an agent's availability as seen by discovery.
type AgentStatus string

const (
	StatusActive      AgentStatus = "active"
	StatusBusy        AgentStatus = "busy"
	StatusUnreachable AgentStatus = "unreachable"
)

// Parameter describes a single named input of a capability.
type Parameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Capability is a named, schema-described operation an agent can perform.
// Capabilities are immutable once declared on a card.
type Capability struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Parameters   []Parameter       `json:"parameters,omitempty"`
	ResultSchema map[string]string `json:"result_schema,omitempty"`
}

// AgentCard is the self-description an agent publishes on registration.
type AgentCard struct {
	AgentID         string       `json:"agent_id"`
	DisplayName     string       `json:"display_name"`
	Capabilities    []Capability `json:"capabilities"`
	ProtocolVersion string       `json:"protocol_version"`
}

// HasCapability reports whether the card declares the named capability.
func (c *AgentCard) HasCapability(name string) bool {
	for _, cap := range c.Capabilities {
		if cap.Name == name {
			return true
		}
	}
	return false
}
