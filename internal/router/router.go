package router

import (
	"bloglytics/internal/handlers"
	"bloglytics/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 需要在 sessions 中间件之后调用
func RegisterRoutes(r *gin.Engine, d *handlers.Deps) {
	r.Use(middleware.LoadUser(d.Users, d.Identity.Tokens))

	// Handlers
	authHandler := handlers.NewAuthHandler(d)
	homeHandler := handlers.NewHomeHandler(d)
	blogHandler := handlers.NewBlogHandler(d)
	dashboardHandler := handlers.NewDashboardHandler(d)
	adminHandler := handlers.NewAdminHandler(d)
	userHandler := handlers.NewUserHandler(d)
	imageHandler := handlers.NewImageHandler(d)
	seoHandler := handlers.NewSEOHandler(d)

	// 上传的图片，外站嵌入返回占位图
	uploads := r.Group("/uploads", handlers.HotlinkGuard())
	uploads.Static("/", d.Config.UploadDir)

	// SEO
	r.GET("/robots.txt", seoHandler.RobotsTxt)
	r.GET("/sitemap.xml", seoHandler.SitemapXML)
	r.GET("/feed.xml", seoHandler.RSSFeed)

	// 公共路由 (Public Routes)
	r.GET("/", homeHandler.Index)                    // 首页
	r.GET("/blogs", blogHandler.List)                // 文章列表 ?page&category&search
	r.GET("/blogs/trending", blogHandler.Trending)   // 热门文章
	r.GET("/blogs/:id", blogHandler.Detail)          // 文章详情
	r.GET("/users/:id", userHandler.Profile)         // 作者主页
	r.POST("/blogs/:id/like", blogHandler.Like)      // 点赞 (JSON，未登录返回提示)
	r.GET("/captcha", authHandler.RefreshCaptcha)    // 刷新验证码
	r.GET("/logout", authHandler.Logout)             // 退出登录
	r.POST("/resend-otp", authHandler.ResendOTP)     // 重新发送验证码 (JSON)
	r.GET("/verify-otp", authHandler.ShowVerifyOTP)  // 验证码页面
	r.POST("/verify-otp", authHandler.VerifyOTP)     // 提交验证码
	r.GET("/login", authHandler.ShowLogin)           // 登录页面
	r.POST("/login", authHandler.Login)              // 提交登录
	r.GET("/register", authHandler.ShowRegister)     // 注册页面
	r.POST("/register", authHandler.Register)        // 提交注册
	r.GET("/forgot-password", authHandler.ShowForgotPassword)
	r.POST("/forgot-password", authHandler.ForgotPassword)
	r.GET("/reset-password", authHandler.ShowResetPassword)
	r.POST("/reset-password", authHandler.ResetPassword)

	// 受保护路由 (Protected Routes)
	authorized := r.Group("/")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.GET("/dashboard", dashboardHandler.Index)            // 仪表盘
		authorized.GET("/blogs/mine", blogHandler.Mine)                 // 我的文章
		authorized.GET("/blogs/new", blogHandler.ShowCreate)            // 写文章
		authorized.POST("/blogs/new", blogHandler.Create)               // 提交新文章
		authorized.GET("/blogs/:id/edit", blogHandler.ShowEdit)         // 编辑页面
		authorized.POST("/blogs/:id/edit", blogHandler.Update)          // 提交编辑
		authorized.POST("/blogs/:id/delete", blogHandler.Delete)        // 删除文章 (JSON)
		authorized.POST("/blogs/:id/comments", blogHandler.AddComment) // 发表评论
		authorized.POST("/uploads/image", imageHandler.Upload)          // 编辑器图片上传 (JSON)
		authorized.GET("/settings", userHandler.ShowSettings)           // 账号设置
		authorized.POST("/settings/profile", userHandler.UpdateProfile)
		authorized.POST("/settings/password", userHandler.ChangePassword)
	}

	// 管理后台 (Admin Routes)
	admin := r.Group("/admin")
	admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
	{
		admin.GET("", adminHandler.Index)
		admin.GET("/blogs", adminHandler.ListBlogs)
		admin.GET("/users", adminHandler.ListUsers)
		admin.GET("/categories", adminHandler.ListCategories)
		admin.GET("/comments", adminHandler.ListComments)

		admin.POST("/blogs/:id/delete", adminHandler.DeleteBlog)
		admin.POST("/blogs/:id/status", adminHandler.ChangeBlogStatus)
		admin.POST("/users/:id/status", adminHandler.ToggleUserStatus)
		admin.POST("/comments/:id/approve", adminHandler.ApproveComment)
		admin.POST("/comments/:id/reject", adminHandler.RejectComment)
		admin.POST("/comments/:id/delete", adminHandler.DeleteComment)
		admin.POST("/categories", adminHandler.AddCategory)
		admin.POST("/categories/:id/toggle", adminHandler.ToggleCategory)
		admin.POST("/categories/:id/delete", adminHandler.DeleteCategory)
	}
}
