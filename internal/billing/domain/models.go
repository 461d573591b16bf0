// Package domain describes the usage summary produced by the billing aggregator.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SummaryRequest struct {
	OrganizationID snowflake.ID `form:"-"`
	PeriodStart    *time.Time   `form:"period_start" time_format:"2006-01-02T15:04:05Z07:00"`
	PeriodEnd      *time.Time   `form:"period_end" time_format:"2006-01-02T15:04:05Z07:00"`
}

type BillingPeriod struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	DaysRemaining int       `json:"days_remaining"`
}

type Plan struct {
	Key                  string `json:"key"`
	Name                 string `json:"name"`
	MonthlyFee           int64  `json:"monthly_fee"`
	IncludedMinutes      int64  `json:"included_minutes"`
	IncludedSMS          int64  `json:"included_sms"`
	IncludedPhoneNumbers int64  `json:"included_phone_numbers"`
	IncludedAIMinutes    int64  `json:"included_ai_minutes"`
}

// Entitlement compares usage of one resource against the plan allowance.
// Included is -1 when the allowance is unlimited.
type Entitlement struct {
	Used        int64 `json:"used"`
	Included    int64 `json:"included"`
	Unlimited   bool  `json:"unlimited"`
	Overage     int64 `json:"overage"`
	OverageRate int64 `json:"overage_rate"`
}

type CurrentUsage struct {
	Minutes              Entitlement `json:"minutes"`
	SMS                  Entitlement `json:"sms"`
	PhoneNumbers         Entitlement `json:"phone_numbers"`
	AIMinutes            Entitlement `json:"ai_minutes"`
	InternationalMinutes Entitlement `json:"international_minutes"`
}

// Charges are integer cents.
type Charges struct {
	BasePlan             int64 `json:"base_plan"`
	OverageMinutes       int64 `json:"overage_minutes"`
	OverageSMS           int64 `json:"overage_sms"`
	OverageAI            int64 `json:"overage_ai"`
	OverageInternational int64 `json:"overage_international"`
	AdditionalNumbers    int64 `json:"additional_numbers"`
	TollFreeNumbers      int64 `json:"toll_free_numbers"`
	StorageOverage       int64 `json:"storage_overage"`
	Taxes                int64 `json:"taxes"`
	Total                int64 `json:"total"`
}

type HistorySource string

const (
	HistorySourceInvoice HistorySource = "invoice"
	HistorySourcePlan    HistorySource = "plan"
)

type HistoryEntry struct {
	Month   string        `json:"month"`
	Minutes int64         `json:"minutes"`
	SMS     int64         `json:"sms"`
	Total   int64         `json:"total"`
	Source  HistorySource `json:"source"`
}

type UsageSummary struct {
	BillingPeriod BillingPeriod  `json:"billing_period"`
	Plan          Plan           `json:"plan"`
	Current       CurrentUsage   `json:"current"`
	Charges       Charges        `json:"charges"`
	History       []HistoryEntry `json:"history"`
}
