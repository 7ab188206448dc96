package service

import (
	"context"

	"washly/backend/internal/domain"
	"washly/backend/internal/timeline"
)

func (s *Service) SessionTimeline(ctx context.Context, sessionID string) (domain.TimelineResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TimelineResponse{}, err
	}
	ledger, err := s.repo.GetSessionLedger(ctx, actor.TenantID, sessionID)
	if err != nil {
		return domain.TimelineResponse{}, err
	}
	return domain.TimelineResponse{
		SessionID: ledger.Session.ID,
		Events:    timeline.BuildSession(*ledger),
	}, nil
}

// RangeTimeline is the tenant cash journal across every session for the
// inclusive local date range.
func (s *Service) RangeTimeline(ctx context.Context, from string, to string) (domain.TimelineResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TimelineResponse{}, err
	}
	loc, window, err := s.dateWindow(ctx, actor.TenantID, from, to)
	if err != nil {
		return domain.TimelineResponse{}, err
	}
	ledger, err := s.repo.GetRangeLedger(ctx, actor.TenantID, window)
	if err != nil {
		return domain.TimelineResponse{}, err
	}
	return domain.TimelineResponse{
		From:   window.From.In(loc).Format(domain.DateLayout),
		To:     window.To.In(loc).Format(domain.DateLayout),
		Events: timeline.BuildRange(*ledger, window),
	}, nil
}
