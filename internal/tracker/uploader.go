package tracker

import (
	"context"
	"strings"
	"time"

	"fieldops/common/errors"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HeaderUserID 与 API 网关约定的身份 header
const HeaderUserID = "X-User-Id"

type uploadBody struct {
	TeamMemberID string    `json:"team_member_id,omitempty"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type apiError struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// HTTPUploader POST /team-locations；不重试，失败由 Sampler 按样本记录
type HTTPUploader struct {
	httpClient   *resty.Client
	userID       string
	teamMemberID string
	logger       *zap.Logger
}

// NewHTTPUploader baseURL 形如 http://api:8080；teamMemberID 为空时由服务端取调用者本人
func NewHTTPUploader(baseURL, userID, teamMemberID string, timeout time.Duration, logger *zap.Logger) *HTTPUploader {
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader(HeaderUserID, userID)

	return &HTTPUploader{
		httpClient:   client,
		userID:       userID,
		teamMemberID: teamMemberID,
		logger:       logger,
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, p Position) error {
	var apiErr apiError
	resp, err := u.httpClient.R().
		SetContext(ctx).
		SetBody(uploadBody{
			TeamMemberID: u.teamMemberID,
			Latitude:     p.Latitude,
			Longitude:    p.Longitude,
			Accuracy:     p.Accuracy,
			Timestamp:    p.Timestamp.UTC(),
		}).
		SetError(&apiErr).
		Post("/team-locations")
	if err != nil {
		return errors.Wrap(err, "failed to post location")
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return errors.Newf("location upload rejected (%d %s): %s", resp.StatusCode(), apiErr.Type, apiErr.Error)
		}
		return errors.Newf("location upload rejected (%d)", resp.StatusCode())
	}
	u.logger.Debug("Location uploaded",
		zap.String("user_id", u.userID),
		zap.Time("timestamp", p.Timestamp),
	)
	return nil
}
