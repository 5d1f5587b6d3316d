package domain

import "time"

// FailedSymbol records a service symbol whose descriptor fetch failed even
// after the retry pass.
type FailedSymbol struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// Discovery is the result of enumerating one endpoint. Partial results are
// valid: Failed lists the symbols that could not be loaded.
type Discovery struct {
	Services []Service      `json:"services"`
	Failed   []FailedSymbol `json:"failed,omitempty"`

	// FastPath is true when the result came from the chain extension
	// reflection service rather than a full descriptor walk. Fast-path
	// results carry method names only; field detail is loaded on demand.
	FastPath bool `json:"fastPath,omitempty"`
}

// InvokeResult is the decoded response of one unary call.
type InvokeResult struct {
	Method   Method         `json:"method"`
	Response map[string]any `json:"response"`
	Duration time.Duration  `json:"-"`

	// ExecutionTimeMs mirrors Duration for JSON consumers.
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}
