package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/clock"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
)

type SlotAdminStore interface {
	CreateSlot(ctx context.Context, slot domain.Slot) error
	GetSlot(ctx context.Context, slotID string) (domain.Slot, error)
	SetBlocked(ctx context.Context, slotID string, blocked bool) error
	ListSlots(ctx context.Context, limit int) ([]domain.Slot, error)
}

// SlotService provisions slots and toggles their blocked flag. It validates
// shape only; the booking lifecycle never passes through here.
type SlotService struct {
	store SlotAdminStore
	clock clock.Clock
}

func NewSlotService(store SlotAdminStore, clk clock.Clock) *SlotService {
	return &SlotService{
		store: store,
		clock: clk,
	}
}

type CreateSlotInput struct {
	StartsAt time.Time
	EndsAt   time.Time
	Capacity int
}

func (s *SlotService) CreateSlot(ctx context.Context, in CreateSlotInput) (domain.Slot, error) {
	if in.Capacity <= 0 {
		return domain.Slot{}, domain.ErrInvalidCapacity
	}
	if in.StartsAt.IsZero() || in.EndsAt.IsZero() || !in.StartsAt.Before(in.EndsAt) {
		return domain.Slot{}, domain.ErrInvalidTimeRange
	}

	slot := domain.Slot{
		ID:        uuid.NewString(),
		StartsAt:  in.StartsAt,
		EndsAt:    in.EndsAt,
		Capacity:  in.Capacity,
		Version:   1,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return domain.Slot{}, err
	}
	return slot, nil
}

func (s *SlotService) GetSlot(ctx context.Context, slotID string) (domain.Slot, error) {
	if slotID == "" {
		return domain.Slot{}, domain.ErrInvalidID
	}
	return s.store.GetSlot(ctx, slotID)
}

func (s *SlotService) BlockSlot(ctx context.Context, slotID string) error {
	if slotID == "" {
		return domain.ErrInvalidID
	}
	return s.store.SetBlocked(ctx, slotID, true)
}

func (s *SlotService) UnblockSlot(ctx context.Context, slotID string) error {
	if slotID == "" {
		return domain.ErrInvalidID
	}
	return s.store.SetBlocked(ctx, slotID, false)
}

func (s *SlotService) ListSlots(ctx context.Context, limit int) ([]domain.Slot, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListSlots(ctx, limit)
}
