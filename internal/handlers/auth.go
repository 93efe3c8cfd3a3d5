package handlers

import (
	"errors"
	"net/http"

	"bloglytics/internal/middleware"
	"bloglytics/internal/models"
	"bloglytics/internal/services"
	"bloglytics/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionRegHandle     = "reg_handle"
	sessionCaptcha       = "captcha_answer"
	sessionResetCaptcha  = "reset_captcha_answer"
	msgResetLinkInvalid  = "Reset link is invalid or has expired."
	msgOTPSessionExpired = "OTP session expired. Please register again."
)

type AuthHandler struct {
	*Deps
}

func NewAuthHandler(d *Deps) *AuthHandler {
	return &AuthHandler{Deps: d}
}

// newCaptcha 生成题目并把答案写入 session
func (h *AuthHandler) newCaptcha(c *gin.Context, key string) string {
	question, answer := h.Captcha.GenerateMathProblem()
	session := sessions.Default(c)
	session.Set(key, answer)
	_ = session.Save()
	return question
}

// checkCaptcha consumes the stored answer; every answer is single use.
func checkCaptcha(c *gin.Context, key, given string) bool {
	session := sessions.Default(c)
	expected, ok := session.Get(key).(int)
	session.Delete(key)
	_ = session.Save()
	return ok && given != "" && utils.StringToInt(given) == expected
}

func landingFor(u *models.User) string {
	if u.IsAdmin() {
		return "/admin"
	}
	return "/dashboard"
}

func (h *AuthHandler) ShowLogin(c *gin.Context) {
	if u := middleware.CurrentUser(c); u != nil {
		c.Redirect(http.StatusFound, landingFor(u))
		return
	}
	Render(c, http.StatusOK, ViewLogin, gin.H{
		"Title":     "Login",
		"ReturnURL": safeReturnURL(c.Query("returnUrl")),
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var form LoginForm
	if err := c.ShouldBind(&form); err != nil {
		Render(c, http.StatusBadRequest, ViewLogin, gin.H{
			"Title":     "Login",
			"Form":      form,
			"Errors":    fieldErrors(err),
			"ReturnURL": safeReturnURL(form.ReturnURL),
		})
		return
	}

	ctx := c.Request.Context()
	user, err := h.Identity.ValidateCredentials(ctx, form.Email, form.Password)
	if err != nil {
		if !errors.Is(err, services.ErrInvalidCredentials) {
			h.fail(c, "login", err)
			return
		}
		Render(c, http.StatusUnauthorized, ViewLogin, gin.H{
			"Title":     "Login",
			"Form":      form,
			"Error":     "Invalid email or password. Please try again.",
			"ReturnURL": safeReturnURL(form.ReturnURL),
		})
		return
	}

	sess, err := h.Identity.IssueSession(user, form.RememberMe)
	if err != nil {
		h.fail(c, "issue session", err)
		return
	}
	if err := h.Identity.RecordLogin(ctx, user.ID); err != nil {
		h.logger().WarnContext(ctx, "record login", "user_id", user.ID, "error", err)
	}

	session := sessions.Default(c)
	session.Clear()
	// session cookie 与 AuthToken 同寿命
	session.Options(middleware.SessionOptions(sess.MaxAge, h.Config.CookieSecure()))
	middleware.SetSessionUser(session, user)
	middleware.SetSessionExpiry(session, sess.ExpiresAt)
	session.AddFlash("Welcome back, "+user.FullName+"!", flashSuccess)
	if err := session.Save(); err != nil {
		h.fail(c, "save session", err)
		return
	}

	// MaxAge 0: 浏览器会话 cookie
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AuthCookie, sess.Token, sess.MaxAge, "/", "", h.Config.CookieSecure(), true)

	h.logger().InfoContext(ctx, "user logged in", "user_id", user.ID, "remember_me", form.RememberMe)
	if next := safeReturnURL(form.ReturnURL); next != "" {
		c.Redirect(http.StatusFound, next)
		return
	}
	c.Redirect(http.StatusFound, landingFor(user))
}

func (h *AuthHandler) ShowRegister(c *gin.Context) {
	if middleware.CurrentUser(c) != nil {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	Render(c, http.StatusOK, ViewRegister, gin.H{
		"Title":   "Register",
		"Captcha": h.newCaptcha(c, sessionCaptcha),
	})
}

func (h *AuthHandler) Register(c *gin.Context) {
	var form RegisterForm
	bindErr := c.ShouldBind(&form)
	captchaOK := checkCaptcha(c, sessionCaptcha, form.Captcha)

	rerender := func(code int, errs map[string]string) {
		Render(c, code, ViewRegister, gin.H{
			"Title":   "Register",
			"Form":    form,
			"Errors":  errs,
			"Captcha": h.newCaptcha(c, sessionCaptcha),
		})
	}

	if bindErr != nil {
		rerender(http.StatusBadRequest, fieldErrors(bindErr))
		return
	}
	if !captchaOK {
		rerender(http.StatusBadRequest, map[string]string{"captcha": "Incorrect answer, please try again."})
		return
	}

	ctx := c.Request.Context()
	challenge, err := h.Identity.BeginRegistration(ctx, form.Email, form.FullName, form.Password)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrValidation):
		rerender(http.StatusBadRequest, fieldErrors(err))
		return
	case errors.Is(err, services.ErrEmailAlreadyRegistered):
		rerender(http.StatusConflict, map[string]string{"email": "This email is already registered."})
		return
	default:
		h.fail(c, "begin registration", err)
		return
	}

	session := sessions.Default(c)
	session.Set(sessionRegHandle, challenge.Handle)
	if challenge.Delivered {
		session.AddFlash("OTP has been sent to your email. Please verify to complete registration.", flashSuccess)
	} else {
		session.AddFlash("We could not send the verification email. Please use Resend OTP.", flashError)
	}
	_ = session.Save()
	c.Redirect(http.StatusFound, "/verify-otp")
}

// pendingEmail 从 session 中的 handle 找到待验证邮箱
func (h *AuthHandler) pendingEmail(c *gin.Context) (string, error) {
	handle, _ := sessions.Default(c).Get(sessionRegHandle).(string)
	return h.Identity.PendingEmail(c.Request.Context(), handle)
}

func (h *AuthHandler) ShowVerifyOTP(c *gin.Context) {
	email, err := h.pendingEmail(c)
	if err != nil {
		if errors.Is(err, services.ErrSessionExpired) {
			redirectWith(c, flashError, msgOTPSessionExpired, "/register")
			return
		}
		h.fail(c, "pending email", err)
		return
	}
	Render(c, http.StatusOK, ViewVerifyOTP, gin.H{"Title": "Verify Email", "Email": email})
}

func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	email, err := h.pendingEmail(c)
	if err != nil {
		if errors.Is(err, services.ErrSessionExpired) {
			redirectWith(c, flashError, msgOTPSessionExpired, "/register")
			return
		}
		h.fail(c, "pending email", err)
		return
	}

	var form VerifyOTPForm
	if err := c.ShouldBind(&form); err != nil {
		Render(c, http.StatusBadRequest, ViewVerifyOTP, gin.H{
			"Title":  "Verify Email",
			"Email":  email,
			"Errors": fieldErrors(err),
		})
		return
	}

	user, err := h.Identity.VerifyOtp(c.Request.Context(), email, form.Code)
	if err != nil {
		var msg string
		switch {
		case errors.Is(err, services.ErrSessionExpired):
			redirectWith(c, flashError, msgOTPSessionExpired, "/register")
			return
		case errors.Is(err, services.ErrEmailAlreadyRegistered):
			redirectWith(c, flashError, "This email is already registered. Please login.", "/login")
			return
		case errors.Is(err, services.ErrTooManyAttempts):
			session := sessions.Default(c)
			session.Delete(sessionRegHandle)
			redirectWith(c, flashError, "Too many incorrect codes. Please register again.", "/register")
			return
		case errors.Is(err, services.ErrChallengeExpired):
			msg = "OTP has expired. Please request a new one."
		case errors.Is(err, services.ErrInvalidCode):
			msg = "Invalid OTP. Please try again."
		default:
			h.fail(c, "verify otp", err)
			return
		}
		Render(c, http.StatusBadRequest, ViewVerifyOTP, gin.H{"Title": "Verify Email", "Email": email, "Error": msg})
		return
	}

	session := sessions.Default(c)
	session.Delete(sessionRegHandle)
	session.AddFlash("Registration successful! Please login with your credentials.", flashSuccess)
	_ = session.Save()
	h.logger().InfoContext(c.Request.Context(), "registration verified", "user_id", user.ID)
	c.Redirect(http.StatusFound, "/login")
}

// ResendOTP AJAX 接口
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	email, err := h.pendingEmail(c)
	if err == nil {
		var ch *services.OtpChallenge
		ch, err = h.Identity.ResendOtp(c.Request.Context(), email)
		if err == nil {
			if !ch.Delivered {
				jsonResult(c, http.StatusOK, false, "Failed to send OTP. Please try again.")
				return
			}
			jsonResult(c, http.StatusOK, true, "A new OTP has been sent to your email.")
			return
		}
	}
	if errors.Is(err, services.ErrSessionExpired) {
		jsonResult(c, http.StatusOK, false, "Session expired")
		return
	}
	h.failJSON(c, "resend otp", err)
}

func (h *AuthHandler) ShowForgotPassword(c *gin.Context) {
	Render(c, http.StatusOK, ViewForgotPassword, gin.H{
		"Title":   "Forgot Password",
		"Captcha": h.newCaptcha(c, sessionResetCaptcha),
	})
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var form ForgotPasswordForm
	bindErr := c.ShouldBind(&form)
	captchaOK := checkCaptcha(c, sessionResetCaptcha, form.Captcha)

	if bindErr != nil || !captchaOK {
		errs := map[string]string{}
		if bindErr != nil {
			errs = fieldErrors(bindErr)
		} else {
			errs["captcha"] = "Incorrect answer, please try again."
		}
		Render(c, http.StatusBadRequest, ViewForgotPassword, gin.H{
			"Title":   "Forgot Password",
			"Form":    form,
			"Errors":  errs,
			"Captcha": h.newCaptcha(c, sessionResetCaptcha),
		})
		return
	}

	// 无论邮箱是否存在都返回同样的提示
	if err := h.Identity.RequestPasswordReset(c.Request.Context(), form.Email); err != nil {
		h.logger().ErrorContext(c.Request.Context(), "request password reset", "error", err)
	}
	redirectWith(c, flashSuccess, "If the email exists, a password reset link has been sent.", "/login")
}

func (h *AuthHandler) ShowResetPassword(c *gin.Context) {
	email, token := c.Query("email"), c.Query("token")
	if err := h.Identity.CheckResetToken(c.Request.Context(), email, token); err != nil {
		if !errors.Is(err, services.ErrInvalidOrExpiredToken) {
			h.logger().ErrorContext(c.Request.Context(), "check reset token", "error", err)
		}
		redirectWith(c, flashError, msgResetLinkInvalid, "/login")
		return
	}
	Render(c, http.StatusOK, ViewResetPassword, gin.H{
		"Title": "Reset Password",
		"Form":  ResetPasswordForm{Email: email, Token: token},
	})
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var form ResetPasswordForm
	if err := c.ShouldBind(&form); err != nil {
		if form.Token == "" || form.Email == "" {
			redirectWith(c, flashError, msgResetLinkInvalid, "/login")
			return
		}
		Render(c, http.StatusBadRequest, ViewResetPassword, gin.H{
			"Title":  "Reset Password",
			"Form":   ResetPasswordForm{Email: form.Email, Token: form.Token},
			"Errors": fieldErrors(err),
		})
		return
	}

	err := h.Identity.ResetPassword(c.Request.Context(), form.Email, form.Token, form.Password)
	switch {
	case err == nil:
		redirectWith(c, flashSuccess, "Password reset successful! Please login with your new password.", "/login")
	case errors.Is(err, services.ErrValidation):
		Render(c, http.StatusBadRequest, ViewResetPassword, gin.H{
			"Title":  "Reset Password",
			"Form":   ResetPasswordForm{Email: form.Email, Token: form.Token},
			"Errors": fieldErrors(err),
		})
	case errors.Is(err, services.ErrInvalidOrExpiredToken):
		redirectWith(c, flashError, msgResetLinkInvalid, "/login")
	default:
		h.fail(c, "reset password", err)
	}
}

func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.AddFlash("You have been logged out successfully.", flashSuccess)
	_ = session.Save()

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AuthCookie, "", -1, "/", "", h.Config.CookieSecure(), true)
	c.Redirect(http.StatusFound, "/login")
}

// RefreshCaptcha 刷新验证码 (?type=reset 用于找回密码表单)
func (h *AuthHandler) RefreshCaptcha(c *gin.Context) {
	key := sessionCaptcha
	if c.Query("type") == "reset" {
		key = sessionResetCaptcha
	}
	c.JSON(http.StatusOK, gin.H{"captcha": h.newCaptcha(c, key)})
}
