package models

import "time"

type CreditPackage struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null;unique"`
	Description string    `json:"description"`
	Credits     int64     `json:"credits" gorm:"not null"`
	PriceCents  int64     `json:"price_cents" gorm:"not null"`
	IsActive    bool      `json:"is_active" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
