package httpapi

import (
	"net/http"
	"strings"

	"fieldops/common/errors"
	"fieldops/internal/domain"
	"fieldops/internal/repository"

	"go.uber.org/zap"
)

// HeaderUserID 认证网关转发的 profile id
const HeaderUserID = "X-User-Id"

// Authenticator 由 X-User-Id 解析调用者
type Authenticator struct {
	profiles repository.ProfilesRepository
	logger   *zap.Logger
}

// NewAuthenticator 创建 Authenticator
func NewAuthenticator(profiles repository.ProfilesRepository, logger *zap.Logger) *Authenticator {
	return &Authenticator{profiles: profiles, logger: logger}
}

// Actor 缺少 header 或 profile 不存在时写 401 并返回 false
func (a *Authenticator) Actor(w http.ResponseWriter, r *http.Request) (*domain.Actor, bool) {
	profileID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if profileID == "" {
		writeError(w, r, a.logger, errors.Authenticationf("missing %s header", HeaderUserID))
		return nil, false
	}
	actor, err := a.profiles.GetActor(r.Context(), profileID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			err = errors.Authenticationf("unknown user")
		}
		writeError(w, r, a.logger, err)
		return nil, false
	}
	return actor, true
}
