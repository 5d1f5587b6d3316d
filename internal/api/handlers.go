package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/spyglass-rpc/spyglass/internal/domain"
	"github.com/spyglass-rpc/spyglass/internal/errs"
	"github.com/spyglass-rpc/spyglass/internal/invoke"
	"github.com/spyglass-rpc/spyglass/internal/reflection"
	"github.com/spyglass-rpc/spyglass/internal/transport"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type endpointRequest struct {
	Address string `json:"address"`
	TLS     bool   `json:"tls"`
}

type methodRequest struct {
	endpointRequest
	Service string `json:"service"`
	Method  string `json:"method"`
}

type invokeRequest struct {
	methodRequest
	Params         map[string]any `json:"params"`
	TimeoutSeconds int            `json:"timeoutSeconds"`
}

type describeResponse struct {
	Method domain.Method                 `json:"method"`
	Input  *domain.MessageTypeDefinition `json:"input"`
	Output *domain.MessageTypeDefinition `json:"output"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: errCode, Message: message})
}

// writeEngineError maps an engine error onto its taxonomy category and an
// HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	category := errs.Classify(err)
	writeError(w, statusFor(category), string(category), err.Error())
}

func statusFor(category errs.Category) int {
	switch category {
	case errs.CategoryNotFound:
		return http.StatusNotFound
	case errs.CategoryBadRequest, errs.CategoryStreaming:
		return http.StatusBadRequest
	case errs.CategoryTimeout:
		return http.StatusGatewayTimeout
	case errs.CategoryTransport, errs.CategoryNegotiation, errs.CategoryMissingType:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, string(errs.CategoryBadRequest), "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) sessionOptions() reflection.Options {
	return reflection.Options{
		ProbeTimeout: s.cfg.ProbeTimeout,
		BatchSize:    s.cfg.DiscoveryBatchSize,
		CallTimeout:  s.cfg.CallTimeout,
	}
}

func (s *Server) openSession(ctx context.Context, req endpointRequest) (*reflection.Session, error) {
	endpoint := domain.Endpoint{Address: req.Address, TLS: req.TLS}
	return reflection.Open(ctx, endpoint, s.sessionOptions(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDiscover enumerates an endpoint's services. The fast path is tried
// first; endpoints without the chain extension fall through to the full
// descriptor walk.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, err := s.openSession(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer sess.Close()

	if result, ok := sess.FastPath(r.Context()); ok {
		writeJSON(w, http.StatusOK, result)
		return
	}

	result, err := sess.DiscoverAll(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDescribe resolves one method and expands its request and response
// types into full field trees.
func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	var req methodRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, err := s.openSession(r.Context(), req.endpointRequest)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer sess.Close()

	if err := sess.DiscoverOne(r.Context(), req.Service); err != nil {
		if reflection.SymbolUnknown(err) {
			err = &errs.NotFoundError{Service: req.Service}
		}
		writeEngineError(w, err)
		return
	}

	svc, ok := sess.Registry().Service(req.Service)
	if !ok {
		writeEngineError(w, &errs.NotFoundError{Service: req.Service})
		return
	}

	var method domain.Method
	found := false
	for _, m := range svc.Methods {
		if m.Name == req.Method {
			method = m
			found = true
			break
		}
	}
	if !found {
		available := make([]string, 0, len(svc.Methods))
		for _, m := range svc.Methods {
			available = append(available, m.Name)
		}
		writeEngineError(w, &errs.NotFoundError{Service: req.Service, Method: req.Method, Available: available})
		return
	}

	input, err := sess.Registry().Describe(method.InputType, nil)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	output, err := sess.Registry().Describe(method.OutputType, nil)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, describeResponse{
		Method: method,
		Input:  input,
		Output: output,
	})
}

// handleInvoke performs one unary call and returns the decoded response.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	timeout := s.cfg.CallTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	sess, err := s.openSession(r.Context(), req.endpointRequest)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer sess.Close()

	inv := invoke.New(sess.Transport(), sess.Registry(), sess, s.logger)
	inv.MaxRecoveryDepth = s.cfg.MaxRecoveryDepth

	result, err := inv.Invoke(r.Context(), req.Service, req.Method, req.Params, timeout)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleValidate checks that an endpoint address parses and its host
// resolves. It never dials: validation is a cheap pre-flight, not a
// connection attempt. Failures come back as a valid=false body rather than
// an error status so callers can present the reason.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := transport.CheckEndpoint(r.Context(), req.Address); err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{Valid: true})
}
