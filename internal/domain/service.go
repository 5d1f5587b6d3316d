package domain

// Service is one discovered gRPC service and its method surface.
type Service struct {
	Name     string   `json:"name"`
	FullName string   `json:"fullName"`
	Methods  []Method `json:"methods"`
}

// Method is one method of a discovered service. InputType and OutputType are
// fully-qualified message type names.
type Method struct {
	Name           string `json:"name"`
	FullName       string `json:"fullName"`
	InputType      string `json:"inputType"`
	OutputType     string `json:"outputType"`
	IsClientStream bool   `json:"isClientStream"`
	IsServerStream bool   `json:"isServerStream"`
}

// MethodType names the RPC shape for API consumers.
func (m Method) MethodType() string {
	switch {
	case m.IsClientStream && m.IsServerStream:
		return "bidirectional_streaming"
	case m.IsServerStream:
		return "server_streaming"
	case m.IsClientStream:
		return "client_streaming"
	default:
		return "unary"
	}
}

// IsUnary reports whether the method has no streaming on either side.
func (m Method) IsUnary() bool {
	return !m.IsClientStream && !m.IsServerStream
}
