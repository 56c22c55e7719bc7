package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobUpdate 工单动态（对应 job_updates 表），只追加不修改
type JobUpdate struct {
	UpdateID  string     `json:"id"`
	JobID     string     `json:"job_id"`
	AuthorID  string     `json:"author_id"`
	Status    *JobStatus `json:"status,omitempty"`
	Notes     string     `json:"notes"`
	Location  *GeoPoint  `json:"location,omitempty"`
	Photos    []string   `json:"photos"`
	CreatedAt time.Time  `json:"created_at"`

	// Author 作者资料，仅查询时填充
	Author *ProfileSummary `json:"author,omitempty"`
}

// ProfileSummary 关联查询时返回的用户摘要
type ProfileSummary struct {
	ProfileID string `json:"id"`
	FullName  string `json:"full_name"`
	Role      Role   `json:"role"`
}

// GeoPoint 经纬度
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Validate 经纬度范围校验
func (p GeoPoint) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %v", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %v", p.Longitude)
	}
	return nil
}

// WKT 转为 PostGIS 可识别的 WKT（经度在前）
func (p GeoPoint) WKT() string {
	return "POINT(" + strconv.FormatFloat(p.Longitude, 'f', -1, 64) + " " +
		strconv.FormatFloat(p.Latitude, 'f', -1, 64) + ")"
}

// ParseWKTPoint 解析 ST_AsText 输出的 "POINT(lng lat)"
func ParseWKTPoint(s string) (*GeoPoint, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToUpper(s), "POINT(") || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("invalid WKT point: %q", s)
	}
	coords := strings.Fields(s[len("POINT(") : len(s)-1])
	if len(coords) != 2 {
		return nil, fmt.Errorf("invalid WKT point: %q", s)
	}
	lng, err := strconv.ParseFloat(coords[0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	lat, err := strconv.ParseFloat(coords[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	return &GeoPoint{Latitude: lat, Longitude: lng}, nil
}
