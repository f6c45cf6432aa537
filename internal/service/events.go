package service

import "time"

const (
	EventProductCreated     = "product.created"
	EventProductUpdated     = "product.updated"
	EventProductSoftDeleted = "product.soft_deleted"
	EventProductHardDeleted = "product.hard_deleted"
	EventProductRestored    = "product.restored"
	EventCategoryCreated    = "category.created"
	EventCategoryUpdated    = "category.updated"
	EventCategoryDeleted    = "category.deleted"
)

// EventPublisher 事务提交后接收目录事件
type EventPublisher interface {
	PublishJSON(eventType string, v any) error
}

type CatalogEvent struct {
	Type       string    `json:"type"`
	ProductID  string    `json:"productId,omitempty"`
	CategoryID string    `json:"categoryId,omitempty"`
	ProductIDs []string  `json:"productIds,omitempty"`
	At         time.Time `json:"at"`
}
