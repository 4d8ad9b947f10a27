package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Availability string

const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOnOrder    Availability = "on_order"
	AvailabilityOutOfStock Availability = "out_of_stock"
)

func (a Availability) Valid() bool {
	switch a {
	case AvailabilityInStock, AvailabilityOnOrder, AvailabilityOutOfStock:
		return true
	}
	return false
}

type Product struct {
	ID                int64           `json:"id"`
	Title             string          `json:"title_ua"`
	Slug              string          `json:"slug"`
	PriceUAH          decimal.Decimal `json:"priceUAH"`
	Category          string          `json:"category,omitempty"`
	Images            []string        `json:"images"`
	Description       string          `json:"desc_ua"`
	Details           string          `json:"details_ua"`
	DeliveryInfo      string          `json:"delivery_ua"`
	Stock             int             `json:"stock"`
	Active            bool            `json:"active"`
	ShowDetailsBlocks bool            `json:"showDetailsBlocks"`
	Availability      Availability    `json:"availability"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p *Product) ImageURL() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

type ProductRequest struct {
	Title             string           `json:"title_ua"`
	Slug              string           `json:"slug"`
	PriceUAH          *decimal.Decimal `json:"priceUAH"`
	Category          string           `json:"category"`
	Images            []string         `json:"images"`
	Description       string           `json:"desc_ua"`
	Details           string           `json:"details_ua"`
	DeliveryInfo      string           `json:"delivery_ua"`
	Stock             *int             `json:"stock"`
	Active            *bool            `json:"active"`
	ShowDetailsBlocks *bool            `json:"showDetailsBlocks"`
	Availability      Availability     `json:"availability"`
}

// ProductFilter narrows catalog and admin listings. A nil Active means any.
type ProductFilter struct {
	Query    string
	Category string
	Active   *bool
}
