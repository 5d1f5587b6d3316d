package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spyglass-rpc/spyglass/internal/domain"
)

// DiscoverAll lists every service the server advertises and fetches the
// descriptor file for each one. Symbols are fetched in small concurrent
// batches so a flaky server is not hammered with unbounded parallelism;
// anything that fails gets one sequential retry before being reported as
// failed. Partial results are normal: a server with one broken descriptor
// still yields everything else.
func (s *Session) DiscoverAll(ctx context.Context) (*domain.Discovery, error) {
	names, err := s.client.ListServices()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	symbols := make([]string, 0, len(names))
	for _, name := range names {
		if name == ServiceNameV1 || name == ServiceNameV1Alpha {
			continue
		}
		symbols = append(symbols, name)
	}

	var mu sync.Mutex
	failed := make(map[string]error)

	batch := s.opts.batchSize()
	for start := 0; start < len(symbols); start += batch {
		end := start + batch
		if end > len(symbols) {
			end = len(symbols)
		}

		var wg sync.WaitGroup
		for _, symbol := range symbols[start:end] {
			wg.Add(1)
			go func(symbol string) {
				defer wg.Done()
				if err := s.DiscoverOne(ctx, symbol); err != nil {
					mu.Lock()
					failed[symbol] = err
					mu.Unlock()
				}
			}(symbol)
		}
		wg.Wait()
	}

	// Retry failures one at a time. Some servers mishandle interleaved
	// reflection requests and recover when asked sequentially. A definitive
	// not-found from the server is permanent and skips the retry.
	for _, symbol := range symbols {
		err, ok := failed[symbol]
		if !ok {
			continue
		}
		if SymbolUnknown(err) {
			s.logger.Warn("service descriptor unavailable",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
			continue
		}
		if err := s.DiscoverOne(ctx, symbol); err != nil {
			failed[symbol] = err
			s.logger.Warn("service descriptor unavailable",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
			continue
		}
		delete(failed, symbol)
	}

	result := &domain.Discovery{Services: s.registry.Services()}
	for symbol, err := range failed {
		result.Failed = append(result.Failed, domain.FailedSymbol{
			Symbol: symbol,
			Error:  err.Error(),
		})
	}
	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].Symbol < result.Failed[j].Symbol
	})

	s.logger.Info("discovery complete",
		slog.Int("services", len(result.Services)),
		slog.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// SymbolUnknown reports whether the server definitively denied knowing the
// symbol, as opposed to a transport or deadline failure. The underlying
// IsElementNotFoundError does not unwrap, so walk the chain here.
func SymbolUnknown(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if grpcreflect.IsElementNotFoundError(e) {
			return true
		}
	}
	return false
}

// DiscoverOne fetches the descriptor file containing one fully-qualified
// symbol and merges it, along with its transitive imports, into the
// registry. Files already seen by this session are skipped.
func (s *Session) DiscoverOne(ctx context.Context, symbol string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fd, err := s.client.FileContainingSymbol(symbol)
	if err != nil {
		return fmt.Errorf("file containing %q: %w", symbol, err)
	}

	merged := s.mergeFileTree(fd)
	if merged > 0 {
		s.logger.Debug("descriptor files merged",
			slog.String("symbol", symbol),
			slog.Int("files", merged),
		)
	}
	return nil
}

// mergeFileTree registers a descriptor file after its imports, depth first,
// and reports how many files were new to the registry.
func (s *Session) mergeFileTree(fd *desc.FileDescriptor) int {
	s.mu.Lock()
	if s.seen[fd.GetName()] {
		s.mu.Unlock()
		return 0
	}
	s.seen[fd.GetName()] = true
	s.mu.Unlock()

	merged := 0
	for _, dep := range fd.GetDependencies() {
		merged += s.mergeFileTree(dep)
	}
	if s.registry.MergeFile(fd.AsFileDescriptorProto()) {
		merged++
	}
	return merged
}
