package scard

// Call is the decoded body of a smart-card device-control request.
// Which fields are meaningful depends on the control code.
type Call struct {
	Context            uint64        `json:"context,omitempty"`
	Card               uint64        `json:"card,omitempty"`
	Scope              uint32        `json:"scope,omitempty"`
	Reader             string        `json:"reader,omitempty"`
	ShareMode          uint32        `json:"share_mode,omitempty"`
	PreferredProtocols uint32        `json:"preferred_protocols,omitempty"`
	Disposition        uint32        `json:"disposition,omitempty"`
	TimeoutMs          *uint32       `json:"timeout_ms,omitempty"`
	ReaderStates       []ReaderState `json:"reader_states,omitempty"`
	SendBuffer         []byte        `json:"send_buffer,omitempty"`
}

// Result is the encoded body of a smart-card device-control response.
type Result struct {
	ReturnCode     ReturnCode    `json:"return_code"`
	ReturnCodeName string        `json:"return_code_name"`
	Context        uint64        `json:"context,omitempty"`
	Card           uint64        `json:"card,omitempty"`
	ActiveProtocol uint32        `json:"active_protocol,omitempty"`
	Readers        []string      `json:"readers,omitempty"`
	ReaderStates   []ReaderState `json:"reader_states,omitempty"`
	Status         *CardStatus   `json:"status,omitempty"`
	RecvBuffer     []byte        `json:"recv_buffer,omitempty"`
}
