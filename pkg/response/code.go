package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 用户模块错误 100xx
	ErrUserExists   = 10001
	ErrUserNotFound = 10002
	ErrAuthFailed   = 10003
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 兑换码模块错误 200xx
	ErrPromoInvalid      = 20001
	ErrPromoInactive     = 20002
	ErrPromoNotStarted   = 20003
	ErrPromoExpired      = 20004
	ErrPromoExhausted    = 20005
	ErrPromoPlanMismatch = 20006
	ErrPromoAlreadyUsed  = 20007

	// 订阅/支付模块错误 300xx
	ErrPlanUnknown       = 30001
	ErrCheckoutFailed    = 30002
	ErrWebhookSignature  = 30003
	ErrWebhookProcessing = 30004

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
