package postgres

import (
	"context"

	"clusterplane/internal/store"
)

// RecordLLMRequest appends one row to the model-call audit trail.
func (s *Store) RecordLLMRequest(ctx context.Context, rec *store.LLMRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_requests (instance_id, user_id, provider, prompt_hash, tokens_in, tokens_out, cost, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`,
		rec.InstanceID,
		rec.UserID,
		rec.Provider,
		rec.PromptHash,
		rec.TokensIn,
		rec.TokensOut,
		rec.Cost,
		rec.Status,
	)
	return err
}
