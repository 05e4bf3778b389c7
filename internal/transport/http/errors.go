package httptransport

import (
	"errors"

	"licensehub/backend/internal/storage"
)

// isNotFound 判断错误链中是否为许可证未找到
func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrLicenseNotFound)
}

// 通用错误消息（管理端信封与公开端点共用的固定措辞）
const (
	// 请求相关
	MsgInvalidRequest   = "invalid request body"
	MsgInvalidDays      = "days must be a positive integer"
	MsgRequestBodyEmpty = "request body must not be empty"

	// 认证相关
	MsgAuthRequired       = "authentication required"
	MsgInvalidCredentials = "invalid email or password"
	MsgTokenExpired       = "token expired, please login again"
	MsgTokenInvalid       = "invalid access token"
	MsgAccountDisabled    = "account disabled"

	// 许可证相关
	MsgLicenseCreateFailed = "failed to create license"
	MsgLicenseListFailed   = "failed to list licenses"
	MsgLicenseUpdateFailed = "failed to update license"
	MsgLicenseNotFound     = "license not found"

	// 管理员相关
	MsgAdminNotFound        = "admin user not found"
	MsgPasswordChangeFailed = "failed to change password"

	// 存储故障：对外统一的可重试提示
	MsgStorageFailure = "temporary storage failure, retry"
)
