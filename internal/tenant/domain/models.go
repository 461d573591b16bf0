// Package domain holds the phone number ownership model used to resolve tenants.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PhoneNumber maps a provisioned number to the organization that owns it.
// Number holds digits only, including the country code.
type PhoneNumber struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Number         string       `gorm:"type:varchar(32);not null;uniqueIndex" json:"number"`
	Label          string       `gorm:"type:text" json:"label,omitempty"`
	TollFree       bool         `gorm:"not null;default:false" json:"toll_free"`
	Active         bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (PhoneNumber) TableName() string { return "phone_numbers" }

// TenantContext is the result of resolving a provider address.
type TenantContext struct {
	OrganizationID snowflake.ID
	PhoneNumberID  snowflake.ID
	Number         string
}

// NumberCounts summarizes the active numbers of an organization.
type NumberCounts struct {
	Total    int64
	TollFree int64
}

type RegisterNumberRequest struct {
	OrganizationID snowflake.ID
	Number         string
	Label          string
	TollFree       bool
}
