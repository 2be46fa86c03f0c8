package service

// GetManyResponse is the paged envelope: the requested window plus the
// counts a client needs to render pagination.
type GetManyResponse struct {
	Data []map[string]any `json:"data"`
	// Count is the number of rows in this window.
	Count int `json:"count"`
	// Total is the number of rows matching the condition across all pages.
	Total int `json:"total"`
	Page  int `json:"page"`
	// PageCount is ceil(total/limit); equals Page's upper bound.
	PageCount int `json:"pageCount"`
}

func newGetManyResponse(data []map[string]any, total, limit, page int) *GetManyResponse {
	if data == nil {
		data = []map[string]any{}
	}
	pageCount := 1
	if limit > 0 {
		pageCount = (total + limit - 1) / limit
		if pageCount < 1 {
			pageCount = 1
		}
	}
	if page < 1 {
		page = 1
	}
	return &GetManyResponse{
		Data:      data,
		Count:     len(data),
		Total:     total,
		Page:      page,
		PageCount: pageCount,
	}
}
