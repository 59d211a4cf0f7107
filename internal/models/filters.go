package models

// DiscoveryFilter represents filter parameters for querying area discoveries
type DiscoveryFilter struct {
	Status   string `form:"status"` // discovered, explored, completed
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// Normalize applies the default page and page size
func (f *DiscoveryFilter) Normalize() {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize)
}

// Normalize applies the default page and page size
func (f *VisitFilter) Normalize() {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize)
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	if size > 1000 {
		size = 1000
	}
	return page, size
}
