package errors

// 错误分类（HTTP 层据此映射状态码）
var (
	ErrAuthentication = New("authentication required")
	ErrPermission     = New("permission denied")
	ErrNotFound       = New("not found")
	ErrValidation     = New("validation failed")
	ErrConflict       = New("conflict")
	ErrInvalidState   = New("invalid state")
)

// Validationf 参数校验失败
func Validationf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrValidation)
}

// Permissionf 角色或归属校验失败
func Permissionf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrPermission)
}

// NotFoundf 记录不存在（或对当前调用者不可见）
func NotFoundf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// Conflictf 唯一性冲突
func Conflictf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConflict)
}

// InvalidStatef 非法状态迁移或终态编辑
func InvalidStatef(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidState)
}

// Authenticationf 无有效会话
func Authenticationf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrAuthentication)
}

// Kind 返回错误所属分类；未分类返回 nil
func Kind(err error) error {
	for _, k := range []error{ErrAuthentication, ErrPermission, ErrNotFound, ErrValidation, ErrConflict, ErrInvalidState} {
		if Is(err, k) {
			return k
		}
	}
	return nil
}
