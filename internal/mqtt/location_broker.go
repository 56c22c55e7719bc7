package mqtt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"fieldops/common/errors"
	mqttcommon "fieldops/common/mqtt"
	"fieldops/internal/domain"
	"fieldops/internal/repository"
	"fieldops/internal/service"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口（由 common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// LocationRecorder 定位写入（由 service.LocationService 实现）
type LocationRecorder interface {
	RecordLocation(ctx context.Context, req service.RecordLocationRequest) (*domain.TeamLocation, error)
}

// ErrDeviceSecretRequired 未配置设备密钥时拒绝启动
var ErrDeviceSecretRequired = errors.New("mqtt device secret is required")

// LocationMessage 设备上报的定位消息
//
// 主题: <prefix>/<team_member_id>
//
//	{"latitude": 51.5, "longitude": -0.12, "accuracy": 8, "timestamp": "2026-11-01T10:00:00Z", "token": "<hex>"}
//
// token = hex(HMAC-SHA256(device_secret, team_member_id))
type LocationMessage struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Token     string     `json:"token"`
}

// DeviceToken 设备为 teamMemberID 签发的上报令牌
func DeviceToken(secret, teamMemberID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(teamMemberID))
	return hex.EncodeToString(mac.Sum(nil))
}

// LocationBroker 订阅员工定位主题，令牌校验通过后以员工本人身份写入定位
type LocationBroker struct {
	subscriber   Subscriber
	recorder     LocationRecorder
	profiles     repository.ProfilesRepository
	topicPrefix  string
	qos          byte
	deviceSecret string
	timeout      time.Duration
	logger       *zap.Logger
}

// NewLocationBroker 创建定位 Broker；deviceSecret 为空时 Start 失败、消息全部拒绝
func NewLocationBroker(
	subscriber Subscriber,
	recorder LocationRecorder,
	profiles repository.ProfilesRepository,
	topicPrefix string,
	qos byte,
	deviceSecret string,
	logger *zap.Logger,
) *LocationBroker {
	return &LocationBroker{
		subscriber:   subscriber,
		recorder:     recorder,
		profiles:     profiles,
		topicPrefix:  strings.TrimSuffix(topicPrefix, "/"),
		qos:          qos,
		deviceSecret: deviceSecret,
		timeout:      5 * time.Second,
		logger:       logger,
	}
}

// Topic 订阅的通配主题
func (b *LocationBroker) Topic() string {
	return b.topicPrefix + "/+"
}

// Start 订阅并阻塞到 ctx 取消
func (b *LocationBroker) Start(ctx context.Context) error {
	if b.deviceSecret == "" {
		return ErrDeviceSecretRequired
	}
	if err := b.subscriber.Subscribe(b.Topic(), b.qos, b.HandleMessage); err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", b.Topic())
	}
	b.logger.Info("Location broker started", zap.String("topic", b.Topic()))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (b *LocationBroker) Stop() {
	if err := b.subscriber.Unsubscribe(b.Topic()); err != nil {
		b.logger.Error("Failed to unsubscribe", zap.String("topic", b.Topic()), zap.Error(err))
	}
	b.logger.Info("Location broker stopped")
}

// HandleMessage 处理一条定位消息
func (b *LocationBroker) HandleMessage(topic string, payload []byte) error {
	teamMemberID, err := b.teamMemberFromTopic(topic)
	if err != nil {
		return err
	}

	var msg LocationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return errors.Wrapf(err, "failed to unmarshal location message on %s", topic)
	}
	if err := b.verifyToken(teamMemberID, msg.Token); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	actor, err := b.actorFor(ctx, teamMemberID)
	if err != nil {
		return err
	}
	loc, err := b.recorder.RecordLocation(ctx, service.RecordLocationRequest{
		Actor:        actor,
		TeamMemberID: teamMemberID,
		Latitude:     msg.Latitude,
		Longitude:    msg.Longitude,
		Accuracy:     msg.Accuracy,
		Timestamp:    msg.Timestamp,
		Source:       service.LocationSourceMQTT,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to record location for %s", teamMemberID)
	}

	b.logger.Debug("Location recorded from MQTT",
		zap.String("team_member_id", teamMemberID),
		zap.Int64("location_id", loc.LocationID),
	)
	return nil
}

// teamMemberFromTopic <prefix>/<team_member_id>
func (b *LocationBroker) teamMemberFromTopic(topic string) (string, error) {
	rest := strings.TrimPrefix(topic, b.topicPrefix+"/")
	if rest == topic || rest == "" || strings.Contains(rest, "/") {
		return "", errors.Newf("invalid location topic: %s", topic)
	}
	return rest, nil
}

// verifyToken 常量时间比较设备令牌
func (b *LocationBroker) verifyToken(teamMemberID, token string) error {
	if b.deviceSecret == "" {
		return errors.Permissionf("location ingest is not configured")
	}
	if token == "" {
		return errors.Authenticationf("missing device token for %s", teamMemberID)
	}
	want := DeviceToken(b.deviceSecret, teamMemberID)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(token))) {
		return errors.Permissionf("invalid device token for %s", teamMemberID)
	}
	return nil
}

// actorFor 员工对应的登录身份；停用员工不接受上报
func (b *LocationBroker) actorFor(ctx context.Context, teamMemberID string) (*domain.Actor, error) {
	tm, err := b.profiles.GetTeamMember(ctx, teamMemberID)
	if err != nil {
		return nil, err
	}
	if !tm.IsActive {
		return nil, errors.Permissionf("team member %s is inactive", teamMemberID)
	}
	return b.profiles.GetActor(ctx, tm.ProfileID)
}
