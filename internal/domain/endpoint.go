package domain

// Endpoint identifies one remote gRPC server. It is immutable once a
// session has been opened against it.
type Endpoint struct {
	// Address is the host:port of the server.
	Address string `json:"address"`

	// TLS enables transport encryption. Plaintext otherwise.
	TLS bool `json:"tls"`
}

func (e Endpoint) String() string {
	if e.TLS {
		return e.Address + " (tls)"
	}
	return e.Address
}
