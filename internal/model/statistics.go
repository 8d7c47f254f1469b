package model

import "time"

// DailyUsage 每日验证统计
type DailyUsage struct {
	Date             string `json:"date"`
	TotalChecks      int    `json:"total_checks"`
	SuccessfulChecks int    `json:"successful_checks"`
	DistinctLicenses int    `json:"distinct_licenses"`
}

// LicenseStatistics 许可证统计信息
type LicenseStatistics struct {
	TotalLicenses       int64        `json:"total_licenses"`
	ActiveLicenses      int64        `json:"active_licenses"`
	DeactivatedLicenses int64        `json:"deactivated_licenses"`
	ExpiredLicenses     int64        `json:"expired_licenses"`
	ExpiringLicenses    int64        `json:"expiring_licenses"`
	BoundLicenses       int64        `json:"bound_licenses"`
	TotalActivations    int64        `json:"total_activations"`
	TotalChecks         int64        `json:"total_checks"`
	FailedChecks        int64        `json:"failed_checks"`
	DailyUsage          []DailyUsage `json:"daily_usage"`
}

// GetSuccessRate 计算验证成功率
func (ls *LicenseStatistics) GetSuccessRate() float64 {
	if ls.TotalChecks == 0 {
		return 0
	}
	return float64(ls.TotalChecks-ls.FailedChecks) / float64(ls.TotalChecks)
}

// GetDailyUsageByDate 获取指定日期的使用统计
func (ls *LicenseStatistics) GetDailyUsageByDate(date time.Time) *DailyUsage {
	day := date.Format("2006-01-02")
	for i := range ls.DailyUsage {
		if ls.DailyUsage[i].Date == day {
			return &ls.DailyUsage[i]
		}
	}
	return nil
}
