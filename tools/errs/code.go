package errs

// 业务错误码分段：
// 11xx 认证/授权
// 12xx 会话状态机
// 14xx 资源不存在
// 15xx 存储/内部
const (
	CodeAuthentication = 1101 // 连接握手凭证无效，连接会被关闭
	CodeAuthorization  = 1102 // 角色或成员资格不符，连接保留
	CodeStateConflict  = 1201 // 会话状态不允许该操作（重复接受、重复关闭等）
	CodeNotFound       = 1404
	CodeStorage        = 1500 // 事务已整体回滚，可安全重发
	CodeInternal       = 1599
)

var (
	ErrAuthentication = NewCodeError(CodeAuthentication, "authentication failed")
	ErrAuthorization  = NewCodeError(CodeAuthorization, "not permitted")
	ErrStateConflict  = NewCodeError(CodeStateConflict, "session state conflict")
	ErrNotFound       = NewCodeError(CodeNotFound, "not found")
	ErrStorage        = NewCodeError(CodeStorage, "storage failure")
	ErrInternal       = NewCodeError(CodeInternal, "internal error")
)
