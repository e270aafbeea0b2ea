package utils

// Pagination 分页请求参数
type Pagination struct {
	Page  int `json:"page" form:"page"`
	Limit int `json:"limit" form:"limit"`
}

// PageResult 分页响应结果
type PageResult struct {
	List  interface{} `json:"list"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Normalize 归一化分页参数并返回偏移量，limit 上限 100
func (p *Pagination) Normalize() (offset, limit int) {
	if p.Page <= 0 {
		p.Page = 1
	}
	switch {
	case p.Limit <= 0:
		p.Limit = 10
	case p.Limit > 100:
		p.Limit = 100
	}
	return (p.Page - 1) * p.Limit, p.Limit
}
