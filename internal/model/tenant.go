package model

import (
	"time"
)

// Tenant is one customer organization with its own isolated database. The
// record itself lives in the shared management database; the code doubles as
// the routing key and the suffix of the tenant's database name.
type Tenant struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Code      string    `json:"code" gorm:"type:varchar(8);uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"type:varchar(128);uniqueIndex;not null"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
