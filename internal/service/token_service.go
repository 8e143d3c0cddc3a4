package service

import (
	"context"

	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/rs/zerolog"
)

// tokenService is the concrete implementation of TokenService
type tokenService struct {
	tokens TokenIssuer
	queue  *queue.Queue
	log    zerolog.Logger
}

// newTokenService creates a new TokenService
func newTokenService(tokens TokenIssuer, q *queue.Queue, log zerolog.Logger) *tokenService {
	return &tokenService{
		tokens: tokens,
		queue:  q,
		log:    log.With().Str("service", "token").Logger(),
	}
}

// GetToken hands out a bearer token, optionally for caller-supplied credentials
func (s *tokenService) GetToken(ctx context.Context, override *models.Credentials) (*models.Token, error) {
	tok, err := queue.Run(ctx, s.queue, queue.PriorityHigh, func(ctx context.Context) (*models.Token, error) {
		return s.tokens.Token(ctx, override)
	})
	if err != nil {
		s.log.Warn().Err(err).Bool("override", override != nil).Msg("Token request failed")
		return nil, err
	}
	return tok, nil
}
