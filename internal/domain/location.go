package domain

import "time"

// TeamLocation 人员定位样本（对应 team_locations 表），只追加
type TeamLocation struct {
	LocationID   int64     `json:"id"`
	TeamMemberID string    `json:"team_member_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	RecordedAt   time.Time `json:"timestamp"`
}

// Point 转为 GeoPoint
func (l TeamLocation) Point() GeoPoint {
	return GeoPoint{Latitude: l.Latitude, Longitude: l.Longitude}
}
