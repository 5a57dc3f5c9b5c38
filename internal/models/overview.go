package models

import "time"

// KPIChange compares the current window against the preceding one of
// equal length.
type KPIChange struct {
	Current       float64 `json:"current"`
	Previous      float64 `json:"previous"`
	ChangePercent float64 `json:"changePercent"`
}

// Overview holds the dashboard headline KPIs for a date range.
type Overview struct {
	Revenue         KPIChange `json:"revenue"`
	SentCount       KPIChange `json:"sentCount"`
	OpenCount       KPIChange `json:"openCount"`
	ClickCount      KPIChange `json:"clickCount"`
	ConversionCount KPIChange `json:"conversionCount"`
	OpenRate        KPIChange `json:"openRate"`
	ClickRate       KPIChange `json:"clickRate"`
	ConversionRate  KPIChange `json:"conversionRate"`
	ActiveCampaigns int64     `json:"activeCampaigns"`
	ActiveFlows     int64     `json:"activeFlows"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// EngagementTotals is a summed counter snapshot over a window used to
// build Overview KPIs.
type EngagementTotals struct {
	SentCount       int64   `db:"sent_count"`
	OpenCount       int64   `db:"open_count"`
	ClickCount      int64   `db:"click_count"`
	ConversionCount int64   `db:"conversion_count"`
	Revenue         float64 `db:"revenue"`
}
