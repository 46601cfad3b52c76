package serials

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/warelink-erp/warelink/internal/erp"
)

// Source reports where a resolution came from.
type Source string

const (
	// SourceCache means the entry was served within its freshness window.
	SourceCache Source = "cache"
	// SourceRemote means the ERP was consulted and the cache refreshed.
	SourceRemote Source = "remote"
	// SourceOffline means the ERP was unreachable and a fallback record was
	// returned carrying only the serial itself.
	SourceOffline Source = "offline"
)

// Resolver is the ERP read surface the service depends on.
type Resolver interface {
	ResolveSerial(ctx context.Context, serial string) (erp.ResolvedSerial, error)
}

// Service performs cache-then-remote serial resolution.
type Service struct {
	store    *Store
	resolver Resolver
	logger   *slog.Logger
	offline  bool
	group    singleflight.Group
}

// NewService constructs a Service. When offlineFallback is true an
// unreachable ERP degrades to an offline record instead of an error.
func NewService(store *Store, resolver Resolver, logger *slog.Logger, offlineFallback bool) *Service {
	return &Service{store: store, resolver: resolver, logger: logger, offline: offlineFallback}
}

// ErrNotFound indicates the ERP does not know the serial number.
var ErrNotFound = errors.New("serials: serial number not found")

// Resolve returns the attributes for a serial, consulting the cache first.
// Concurrent lookups for the same serial share one remote call.
func (s *Service) Resolve(ctx context.Context, serial string) (erp.ResolvedSerial, Source, error) {
	entry, ok, err := s.store.Get(ctx, serial)
	if err != nil {
		// A broken cache must not take serial validation down.
		s.logger.Warn("serial cache read", slog.String("serial", serial), slog.Any("error", err))
	} else if ok {
		return entry.Resolved, SourceCache, nil
	}

	v, err, _ := s.group.Do(serial, func() (any, error) {
		resolved, err := s.resolver.ResolveSerial(ctx, serial)
		if err != nil {
			return nil, err
		}
		if err := s.store.Upsert(ctx, resolved); err != nil {
			s.logger.Warn("serial cache write", slog.String("serial", serial), slog.Any("error", err))
		}
		return resolved, nil
	})
	if err != nil {
		if errors.Is(err, erp.ErrSerialNotFound) {
			return erp.ResolvedSerial{}, SourceRemote, ErrNotFound
		}
		if errors.Is(err, erp.ErrUnavailable) && s.offline {
			s.logger.Warn("erp unreachable, serving offline fallback", slog.String("serial", serial))
			return erp.ResolvedSerial{Serial: serial}, SourceOffline, nil
		}
		return erp.ResolvedSerial{}, SourceRemote, err
	}
	return v.(erp.ResolvedSerial), SourceRemote, nil
}
