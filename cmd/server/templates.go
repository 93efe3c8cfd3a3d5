package main

import (
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"bloglytics/internal/handlers"
	"bloglytics/internal/utils"

	"github.com/gin-contrib/multitemplate"
)

// views 页面模板，key 与 handler 中的名称一致
var views = []string{
	handlers.ViewHome,
	handlers.ViewBlogList,
	handlers.ViewBlogTrending,
	handlers.ViewBlogDetail,
	handlers.ViewBlogForm,
	handlers.ViewMyBlogs,
	handlers.ViewLogin,
	handlers.ViewRegister,
	handlers.ViewVerifyOTP,
	handlers.ViewForgotPassword,
	handlers.ViewResetPassword,
	handlers.ViewDashboard,
	handlers.ViewUserProfile,
	handlers.ViewSettings,
	handlers.ViewAdminIndex,
	handlers.ViewAdminBlogs,
	handlers.ViewAdminUsers,
	handlers.ViewAdminCategory,
	handlers.ViewAdminComments,
	handlers.ViewError,
}

func timeAgo(t interface{}) string {
	var timeVal time.Time
	switch v := t.(type) {
	case time.Time:
		timeVal = v
	case *time.Time:
		if v == nil {
			return ""
		}
		timeVal = *v
	default:
		return ""
	}

	seconds := int(time.Since(timeVal).Seconds())
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return plural(seconds/60, "minute")
	case seconds < 86400:
		return plural(seconds/3600, "hour")
	case seconds < 2592000:
		return plural(seconds/86400, "day")
	case seconds < 31536000:
		return plural(seconds/2592000, "month")
	}
	return plural(seconds/31536000, "year")
}

func formatDate(t interface{}) string {
	switch v := t.(type) {
	case time.Time:
		return v.Format("Jan 2, 2006")
	case *time.Time:
		if v != nil {
			return v.Format("Jan 2, 2006")
		}
	}
	return ""
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"dict": func(values ...interface{}) (map[string]interface{}, error) {
			if len(values)%2 != 0 {
				return nil, fmt.Errorf("invalid dict call")
			}
			dict := make(map[string]interface{}, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings")
				}
				dict[key] = values[i+1]
			}
			return dict, nil
		},
		"add":        func(a, b int) int { return a + b },
		"sub":        func(a, b int) int { return a - b },
		"timeAgo":    timeAgo,
		"formatDate": formatDate,
		"excerpt": func(summary, content string, max int) string {
			return utils.Excerpt(summary, content, max)
		},
		"truncate": utils.Truncate,
		"lower":    strings.ToLower,
		"initial": func(name string) string {
			name = strings.TrimSpace(name)
			if name == "" {
				return "?"
			}
			return strings.ToUpper(string([]rune(name)[0]))
		},
		"year": func() int { return time.Now().Year() },
	}
}

// loadTemplates: 每个页面 = layouts + includes + components + view
func loadTemplates(templatesDir string) multitemplate.Renderer {
	r := multitemplate.NewRenderer()

	layouts, err := filepath.Glob(templatesDir + "/layouts/*.html")
	if err != nil {
		panic(err)
	}
	includes, err := filepath.Glob(templatesDir + "/includes/*.html")
	if err != nil {
		panic(err)
	}
	components, err := filepath.Glob(templatesDir + "/components/*.html")
	if err != nil {
		panic(err)
	}

	assemble := func(view string) []string {
		files := make([]string, 0, len(layouts)+len(includes)+len(components)+1)
		files = append(files, layouts...)
		files = append(files, includes...)
		files = append(files, components...)
		files = append(files, view)
		return files
	}

	funcMap := templateFuncs()
	for _, name := range views {
		r.AddFromFilesFuncs(name, funcMap, assemble(filepath.Join(templatesDir, "views", name))...)
	}
	return r
}
