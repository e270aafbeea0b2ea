package handler

import (
	"net/http"

	"sparkdate/internal/domain/user/service"
	"sparkdate/pkg/response"
	"sparkdate/pkg/utils"

	"github.com/gin-gonic/gin"
)

// UserHandler 用户处理器
type UserHandler struct {
	service service.UserService
}

// NewUserHandler 创建处理器
func NewUserHandler(service service.UserService) *UserHandler {
	return &UserHandler{service: service}
}

// LoginInput 登录/注册输入
type LoginInput struct {
	Mobile string `json:"mobile" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// SendOTPInput 发送验证码输入
type SendOTPInput struct {
	Mobile string `json:"mobile" binding:"required"`
}

// LoginOrRegister 验证码登录，未注册自动注册
// @Summary 登录/注册
// @Tags User
// @Router /auth/login [post]
func (h *UserHandler) LoginOrRegister(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	token, err := h.service.LoginOrRegister(input.Mobile, input.Code)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, response.ErrAuthFailed, err.Error())
		return
	}

	response.Success(c, gin.H{"token": token})
}

// SendOTP 发送验证码
// @Summary 发送验证码
// @Tags User
// @Router /auth/otp [post]
func (h *UserHandler) SendOTP(c *gin.Context) {
	var input SendOTPInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.SendOTP(input.Mobile); err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, "OTP sent")
}

// GetMe 获取当前用户（含会员权益字段，前端据此开关付费功能）
// @Summary 获取当前用户
// @Tags User
// @Router /users/me [get]
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := utils.GetUserIDFromContext(c)
	if userID == "" {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	user, err := h.service.GetUser(userID)
	if err != nil {
		response.Error(c, http.StatusNotFound, response.ErrUserNotFound, "User not found")
		return
	}
	response.Success(c, user)
}

// GetUser 获取单个用户
func (h *UserHandler) GetUser(c *gin.Context) {
	id := c.Param("id")
	user, err := h.service.GetUser(id)
	if err != nil {
		response.Error(c, http.StatusNotFound, response.ErrUserNotFound, "User not found")
		return
	}
	response.Success(c, user)
}

// GetUsers 用户列表（管理端，分页）
func (h *UserHandler) GetUsers(c *gin.Context) {
	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	p.Normalize()

	users, total, err := h.service.GetUsers(p.Page, p.Limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}

	response.Success(c, utils.PageResult{
		List:  users,
		Total: total,
		Page:  p.Page,
		Limit: p.Limit,
	})
}

// UpdateProfileInput 更新资料输入
type UpdateProfileInput struct {
	Nickname  string `json:"nickname" binding:"required,max=50"`
	AvatarURL string `json:"avatarUrl" binding:"omitempty,url"`
	Bio       string `json:"bio" binding:"max=500"`
}

// UpdateProfile 更新当前用户资料
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID := utils.GetUserIDFromContext(c)
	if userID == "" {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	var input UpdateProfileInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	user, err := h.service.UpdateProfile(userID, input.Nickname, input.AvatarURL, input.Bio)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, user)
}

// DeleteUser 注销账号
func (h *UserHandler) DeleteUser(c *gin.Context) {
	userID := utils.GetUserIDFromContext(c)
	if userID == "" {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	if err := h.service.DeleteUser(userID); err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, true)
}
