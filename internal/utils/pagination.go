package utils

// Pagination 分页视图数据
type Pagination struct {
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
	Pages      []int
}

func NewPagination(page, pageSize int, total int64) Pagination {
	if pageSize <= 0 {
		pageSize = 10
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if page < 1 {
		page = 1
	}
	if totalPages < 1 {
		totalPages = 1
	}
	p := Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}

	// 最多展示当前页前后各两页
	start, end := page-2, page+2
	if start < 1 {
		start = 1
	}
	if end > totalPages {
		end = totalPages
	}
	for i := start; i <= end; i++ {
		p.Pages = append(p.Pages, i)
	}
	return p
}

func (p Pagination) HasPrev() bool { return p.Page > 1 }
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages }
func (p Pagination) PrevPage() int { return p.Page - 1 }
func (p Pagination) NextPage() int { return p.Page + 1 }
