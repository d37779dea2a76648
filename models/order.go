package models

import "time"

// OrderStatus tracks an order through fulfilment.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPreparing OrderStatus = "PREPARING"
	OrderInTransit OrderStatus = "IN_TRANSIT"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// OrderStatuses lists every accepted status value.
var OrderStatuses = []OrderStatus{OrderPending, OrderPreparing, OrderInTransit, OrderDelivered, OrderCancelled}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	for _, v := range OrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Order is placed by a customer, optionally linked to a registered user.
type Order struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	TotalPrice      float64         `gorm:"not null" json:"total_price"`
	CustomerName    string          `gorm:"size:255;not null" json:"customer_name"`
	CustomerPhone   string          `gorm:"size:32;not null;index" json:"customer_phone"`
	CustomerAddress string          `gorm:"size:512;not null" json:"customer_address"`
	Status          OrderStatus     `gorm:"size:16;not null;default:'PENDING'" json:"status"`
	UserID          *uint           `gorm:"index" json:"user_id"`
	User            *User           `json:"user,omitempty"`
	Items           []OrderOffering `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderOffering is one line of an order.
type OrderOffering struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OrderID    uint      `gorm:"index;not null" json:"order_id"`
	OfferingID uint      `gorm:"index;not null" json:"offering_id"`
	Quantity   int       `gorm:"not null" json:"quantity"`
	Subtotal   float64   `gorm:"not null" json:"subtotal"`
	Offering   *Offering `json:"offering,omitempty"`
}
