package response

// 业务状态码，习惯上对齐 HTTP 语义
const (
	CodeOK              = 0
	CodeBadRequest      = 400 // 参数或载荷校验失败
	CodeUnauthorized    = 401 // 未登录或密钥无效
	CodeForbidden       = 403 // 无权限
	CodeNotFound        = 404 // 资源不存在
	CodeTooManyRequests = 429 // 触发限流
	CodeInternal        = 500 // 服务内部错误
)
