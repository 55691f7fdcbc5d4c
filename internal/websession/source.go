package websession

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/macfox/tokline/internal/fetcherr"
	"github.com/macfox/tokline/internal/usage"
)

// Source is the web usage fetcher: session key to organization id to usage,
// with one retry after a successful session re-resolution.
type Source struct {
	resolver *Resolver
	client   *Client
	logger   *slog.Logger
}

func NewSource(resolver *Resolver, client *Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{resolver: resolver, client: client, logger: logger}
}

func (s *Source) Fetch(ctx context.Context) (*usage.Limits, error) {
	sess, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	limits, err := s.fetchWith(ctx, sess)
	if err == nil || !errors.Is(err, fetcherr.ErrSessionExpired) {
		return limits, err
	}

	fresh, rerr := s.resolver.Reresolve(ctx, sess.SessionKey)
	if rerr != nil {
		s.logger.Debug("web session re-resolution failed", "error", rerr)
		return nil, err
	}
	return s.fetchWith(ctx, fresh)
}

func (s *Source) fetchWith(ctx context.Context, sess Session) (*usage.Limits, error) {
	orgID := sess.OrganizationID
	if orgID == "" {
		resolved, err := s.client.ResolveOrganization(ctx, sess.SessionKey)
		if err != nil {
			return nil, err
		}
		orgID = resolved
		if err := s.resolver.SetOrganization(sess.SessionKey, orgID); err != nil {
			s.logger.Warn("persist organization id", "error", err)
		}
	}
	return s.client.Usage(ctx, sess.SessionKey, orgID)
}
