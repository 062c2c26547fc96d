package model

import (
	"time"
)

// Product represents the product master data. Every tenant database carries
// its own products table, created by the commons migration scope, so rows
// never need a tenant discriminator column.
type Product struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	Price       float64   `json:"price" gorm:"type:numeric(12,2)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
