package service

import (
	"context"
	"fmt"
	"time"

	"catalog-api/internal/domain"
)

type Transition int

const (
	TransitionSoftDelete Transition = iota
	TransitionHardDelete
	TransitionRestore
)

func (t Transition) String() string {
	switch t {
	case TransitionSoftDelete:
		return "soft_delete"
	case TransitionHardDelete:
		return "hard_delete"
	case TransitionRestore:
		return "restore"
	}
	return "unknown"
}

// Next 商品删除状态机；硬删后没有任何出边
func Next(from domain.LifecycleState, t Transition) (domain.LifecycleState, error) {
	switch from {
	case domain.StateActive:
		switch t {
		case TransitionSoftDelete:
			return domain.StateSoftDeleted, nil
		case TransitionHardDelete:
			return domain.StateHardDeleted, nil
		case TransitionRestore:
			return from, domain.Conflict("product is not deleted")
		}
	case domain.StateSoftDeleted:
		switch t {
		case TransitionSoftDelete:
			return from, domain.Conflict("product is already deleted")
		case TransitionHardDelete:
			return domain.StateHardDeleted, nil
		case TransitionRestore:
			return domain.StateActive, nil
		}
	case domain.StateHardDeleted:
		return from, domain.NotFound("product not found")
	}
	return from, domain.Internal(fmt.Sprintf("no transition %s from %s", t, from), nil)
}

// LifecycleEngine 对已存商品执行状态迁移，涉及成员关系时交给一致性维护
type LifecycleEngine struct {
	integrity *IntegrityMaintainer
	now       func() time.Time
}

func NewLifecycleEngine(m *IntegrityMaintainer, now func() time.Time) *LifecycleEngine {
	if now == nil {
		now = time.Now
	}
	return &LifecycleEngine{integrity: m, now: now}
}

// Delete 软删或硬删 p；软删不改成员关系
func (e *LifecycleEngine) Delete(ctx context.Context, tx domain.CatalogStore, p *domain.Product, hard bool) error {
	t := TransitionSoftDelete
	if hard {
		t = TransitionHardDelete
	}
	next, err := Next(p.Lifecycle.State, t)
	if err != nil {
		return err
	}

	if next == domain.StateHardDeleted {
		if err := e.integrity.OnHardDelete(ctx, tx, p.ID, p.CategoryID); err != nil {
			return err
		}
		if err := tx.DeleteProduct(ctx, p.ID); err != nil {
			return e.integrity.fail(opProductHardDelete, err)
		}
		p.Lifecycle = domain.Lifecycle{State: domain.StateHardDeleted, DeletedAt: e.now().UTC()}
		return nil
	}

	now := e.now().UTC()
	p.Lifecycle = domain.SoftDeletedAt(now)
	p.UpdatedAt = now
	if err := tx.SaveProduct(ctx, p); err != nil {
		return fmt.Errorf("soft delete %s: %w", p.ID, err)
	}
	return nil
}

// Restore 软删商品恢复为 Active，categoryId 不变
func (e *LifecycleEngine) Restore(ctx context.Context, tx domain.CatalogStore, p *domain.Product) error {
	if _, err := Next(p.Lifecycle.State, TransitionRestore); err != nil {
		return err
	}
	p.Lifecycle = domain.Active()
	p.UpdatedAt = e.now().UTC()
	if err := tx.SaveProduct(ctx, p); err != nil {
		return fmt.Errorf("restore %s: %w", p.ID, err)
	}
	return nil
}
