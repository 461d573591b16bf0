// Package domain contains the read models for subscriptions and their invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// CurrentStatuses are the states whose period bounds tag new usage.
var CurrentStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
}

// Subscription is owned by the billing processor integration; the usage pipeline only reads it.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	OrganizationID     snowflake.ID       `gorm:"not null;index" json:"organization_id"`
	PlanID             string             `gorm:"type:text;not null" json:"plan_id"`
	Status             SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	CurrentPeriodStart time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `gorm:"not null" json:"current_period_end"`
	CancelAtPeriodEnd  bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

type InvoiceStatus string

const (
	InvoiceStatusOpen InvoiceStatus = "open"
	InvoiceStatusPaid InvoiceStatus = "paid"
	InvoiceStatusVoid InvoiceStatus = "void"
)

// Invoice is the billing processor's record of what a period actually cost.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	SubscriptionID *snowflake.ID `json:"subscription_id,omitempty"`
	Status         InvoiceStatus `gorm:"type:text;not null" json:"status"`
	AmountPaid     int64         `gorm:"not null;default:0" json:"amount_paid"`
	PeriodStart    time.Time     `gorm:"not null" json:"period_start"`
	PeriodEnd      time.Time     `gorm:"not null" json:"period_end"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
}

func (Invoice) TableName() string { return "invoices" }
