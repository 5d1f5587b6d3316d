package reflection

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spyglass-rpc/spyglass/internal/domain"
	"github.com/spyglass-rpc/spyglass/internal/invoke"
)

// chainReflectionService is the custom reflection surface exposed by chain
// nodes. When present it hands back the entire query and transaction
// surface in two calls instead of one descriptor fetch per service.
const chainReflectionService = "cosmos.base.reflection.v2alpha1.ReflectionService"

// FastPath attempts bulk discovery through the chain reflection service.
// Services and message names learned this way are recorded as placeholders
// whose full descriptors are fetched lazily on first use. Returns false
// when the endpoint does not expose the service or either call fails, in
// which case the caller should discover the slow way.
func (s *Session) FastPath(ctx context.Context) (*domain.Discovery, bool) {
	if err := s.DiscoverOne(ctx, chainReflectionService); err != nil {
		s.logger.Debug("chain reflection not available", slog.Any("error", err))
		return nil, false
	}

	inv := invoke.New(s.transport, s.registry, s, s.logger)

	queries, err := inv.Invoke(ctx, chainReflectionService, "GetQueryServicesDescriptor", nil, s.opts.callTimeout())
	if err != nil {
		s.logger.Debug("query services descriptor call failed", slog.Any("error", err))
		return nil, false
	}
	services := parseQueryServices(queries.Response)
	if len(services) == 0 {
		return nil, false
	}

	tx, err := inv.Invoke(ctx, chainReflectionService, "GetTxDescriptor", nil, s.opts.callTimeout())
	if err != nil {
		s.logger.Debug("tx descriptor call failed", slog.Any("error", err))
		return nil, false
	}

	for _, svc := range services {
		s.registry.AddPlaceholderService(svc)
	}
	msgs := parseTxMessages(tx.Response)
	for _, name := range msgs {
		s.registry.AddPlaceholderMessage(name)
	}

	s.logger.Info("fast discovery complete",
		slog.Int("services", len(services)),
		slog.Int("messages", len(msgs)),
	)
	return &domain.Discovery{
		Services: s.registry.Services(),
		FastPath: true,
	}, true
}

// parseQueryServices walks the decoded query services descriptor. The
// response is read loosely: anything malformed is skipped, and only names
// are trusted, type information waits for real descriptors.
func parseQueryServices(resp map[string]any) []domain.Service {
	queries, _ := resp["queries"].(map[string]any)
	list, _ := queries["queryServices"].([]any)

	var out []domain.Service
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fullName, _ := obj["fullname"].(string)
		if fullName == "" {
			continue
		}

		svc := domain.Service{
			Name:     lastDotSegment(fullName),
			FullName: fullName,
		}
		methods, _ := obj["methods"].([]any)
		for _, m := range methods {
			mobj, ok := m.(map[string]any)
			if !ok {
				continue
			}
			name, _ := mobj["name"].(string)
			if name == "" {
				continue
			}
			svc.Methods = append(svc.Methods, domain.Method{
				Name:     name,
				FullName: fullName + "." + name,
			})
		}
		out = append(out, svc)
	}
	return out
}

// parseTxMessages extracts transaction message type names from the decoded
// tx descriptor. Type URLs carry a leading slash that is not part of the
// qualified name.
func parseTxMessages(resp map[string]any) []string {
	tx, _ := resp["tx"].(map[string]any)
	msgs, _ := tx["msgs"].([]any)

	var out []string
	for _, item := range msgs {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url, _ := obj["msgTypeUrl"].(string)
		if url == "" {
			continue
		}
		out = append(out, strings.TrimPrefix(url, "/"))
	}
	return out
}

func lastDotSegment(fqn string) string {
	if i := strings.LastIndex(fqn, "."); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}
