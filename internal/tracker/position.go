package tracker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"math"
	"strings"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"
)

var (
	// ErrPermissionDenied 设备拒绝定位权限；不自动重试
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrPositionTimeout 定位超时；不自动重试
	ErrPositionTimeout = errors.New("location request timed out")
)

const earthRadiusMeters = 6371000.0

// Position 一次原始定位
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Point 转为 GeoPoint
func (p Position) Point() domain.GeoPoint {
	return domain.GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude}
}

// DistanceMeters haversine 大圆距离（米）
func DistanceMeters(a, b domain.GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// PositionSource 持续产生定位；Watch 阻塞直到 ctx 结束、来源耗尽（返回 nil）或出错
type PositionSource interface {
	Watch(ctx context.Context, fn func(Position)) error
}

// ChannelSource 从 channel 读取定位，Errs 上的错误结束监听；Errs 可为 nil 或提前关闭
type ChannelSource struct {
	C    <-chan Position
	Errs <-chan error
}

func (s *ChannelSource) Watch(ctx context.Context, fn func(Position)) error {
	errs := s.Errs
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				// Errs 关闭后不再 select，只读 C
				errs = nil
				continue
			}
			if err != nil {
				return err
			}
		case p, ok := <-s.C:
			if !ok {
				return nil
			}
			fn(p)
		}
	}
}

// replayLine JSON Lines 中的一行；error 字段模拟设备错误
type replayLine struct {
	Position
	Error string `json:"error,omitempty"`
}

// ReplaySource 回放 JSON Lines 轨迹文件
// Delay > 0 时每行之间等待，模拟真实上报节奏
type ReplaySource struct {
	r     io.Reader
	Delay time.Duration
}

func NewReplaySource(r io.Reader) *ReplaySource {
	return &ReplaySource{r: r}
}

func (s *ReplaySource) Watch(ctx context.Context, fn func(Position)) error {
	scanner := bufio.NewScanner(s.r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var line replayLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return errors.Wrapf(err, "invalid replay line %d", lineNo)
		}
		switch line.Error {
		case "":
		case "permission_denied":
			return ErrPermissionDenied
		case "timeout":
			return ErrPositionTimeout
		default:
			return errors.Newf("replay line %d: unknown error %q", lineNo, line.Error)
		}
		if line.Timestamp.IsZero() {
			line.Timestamp = time.Now().UTC()
		}

		if ctx.Err() != nil {
			return nil
		}
		fn(line.Position)

		if s.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.Delay):
			}
		}
	}
	return errors.Wrap(scanner.Err(), "failed to read replay file")
}
