package service

import (
	"context"

	"scorer/pkg/domain"
	"scorer/pkg/platform/audit"
	txcontext "scorer/pkg/platform/tx"
)

// RemovePassport deletes an address's passport, stamps and score in a community, frees its
// claim keys and records the request. History events are kept.
func (s *Service) RemovePassport(ctx context.Context, communityID domain.CommunityID, address domain.Address) error {
	community, address, err := s.resolve(ctx, communityID, address)
	if err != nil {
		return err
	}
	ctx = txcontext.WithShardKey(ctx, communityID.String())

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		passport, err := s.findPassport(ctx, community.ID, address)
		if err != nil {
			return err
		}
		if err := s.passports.DeletePassport(ctx, passport.ID); err != nil {
			return storageError(err, "failed to delete passport")
		}
		if err := s.index.ReleaseAddress(ctx, community.ID, address); err != nil {
			return storageError(err, "failed to release claim keys")
		}

		event, err := audit.NewEvent(audit.ActionDataRemoval, community.ID, address,
			map[string]any{"passport_id": passport.ID}, s.now())
		if err != nil {
			return storageError(err, "failed to build removal event")
		}
		if err := s.events.Append(ctx, event); err != nil {
			return storageError(err, "failed to record removal")
		}

		s.logger.InfoContext(ctx, "passport removed", "community_id", community.ID, "address", address)
		return nil
	})
}
