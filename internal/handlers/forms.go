package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"bloglytics/internal/services"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type LoginForm struct {
	Email      string `form:"email" binding:"required,email"`
	Password   string `form:"password" binding:"required"`
	RememberMe bool   `form:"remember_me"`
	ReturnURL  string `form:"returnUrl"`
}

type RegisterForm struct {
	FullName        string `form:"full_name" binding:"required,min=2,max=100"`
	Email           string `form:"email" binding:"required,email,max=255"`
	Password        string `form:"password" binding:"required,min=6,max=100"`
	ConfirmPassword string `form:"confirm_password" binding:"required,eqfield=Password"`
	Captcha         string `form:"captcha" binding:"required"`
}

type VerifyOTPForm struct {
	Code string `form:"otp" binding:"required,len=6,numeric"`
}

type ForgotPasswordForm struct {
	Email   string `form:"email" binding:"required,email"`
	Captcha string `form:"captcha" binding:"required"`
}

type ResetPasswordForm struct {
	Email           string `form:"email" binding:"required,email"`
	Token           string `form:"token" binding:"required"`
	Password        string `form:"password" binding:"required,min=6,max=100"`
	ConfirmPassword string `form:"confirm_password" binding:"required,eqfield=Password"`
}

type BlogForm struct {
	Title      string `form:"title" binding:"required,max=200"`
	Content    string `form:"content" binding:"required"`
	Summary    string `form:"summary" binding:"max=500"`
	CategoryID uint   `form:"category_id" binding:"required"`
	Status     string `form:"status" binding:"omitempty,oneof=Draft Published Archived"`
}

type CommentForm struct {
	Content         string `form:"content" binding:"required,max=1000"`
	ParentCommentID *uint  `form:"parent_comment_id"`
}

type CategoryForm struct {
	Name        string `form:"categoryName" binding:"required,max=100"`
	Description string `form:"description" binding:"max=500"`
}

type ProfileForm struct {
	FullName string `form:"full_name" binding:"required,min=2,max=100"`
}

type PasswordForm struct {
	CurrentPassword string `form:"current_password" binding:"required"`
	Password        string `form:"password" binding:"required,min=6,max=100"`
	ConfirmPassword string `form:"confirm_password" binding:"required,eqfield=Password"`
}

type StatusForm struct {
	Status string `form:"status" binding:"required,oneof=Draft Published Archived"`
}

func init() {
	// 错误信息里用表单字段名，而不是结构体字段名
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	}
}

// fieldErrors turns binding or service validation errors into per-field messages.
// Anything else ends up under "_".
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	var se *services.ValidationError
	switch {
	case errors.As(err, &ve):
		for _, fe := range ve {
			if _, seen := out[fe.Field()]; !seen {
				out[fe.Field()] = fieldMessage(fe)
			}
		}
	case errors.As(err, &se):
		for k, v := range se.Fields {
			out[k] = v
		}
	default:
		out["_"] = "Please check the form and try again."
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Please enter a valid email address."
	case "min":
		return fmt.Sprintf("Must be at least %s characters.", fe.Param())
	case "max":
		return fmt.Sprintf("Cannot exceed %s characters.", fe.Param())
	case "len":
		return fmt.Sprintf("Must be exactly %s characters.", fe.Param())
	case "numeric":
		return "Must contain digits only."
	case "eqfield":
		return "Passwords do not match."
	case "oneof":
		return "Invalid value."
	}
	return "Invalid value."
}
