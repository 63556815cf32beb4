package video

import "time"

type Video struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	VideoFile   string    `json:"videoFile"`
	Thumbnail   string    `json:"thumbnail"`
	Duration    float64   `json:"duration"`
	Views       int64     `json:"views"`
	IsPublished bool      `json:"isPublished"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ListQuery is a validated listing request. SortBy is already mapped to a
// column name.
type ListQuery struct {
	Page     int
	Limit    int
	Search   string
	SortBy   string
	SortDesc bool
	OwnerID  string
	ViewerID string
}

func (q ListQuery) offset() int {
	return (q.Page - 1) * q.Limit
}

// Page is one page of a video listing.
type Page struct {
	Docs        []Video `json:"docs"`
	TotalDocs   int64   `json:"totalDocs"`
	Limit       int     `json:"limit"`
	Page        int     `json:"page"`
	TotalPages  int     `json:"totalPages"`
	HasPrevPage bool    `json:"hasPrevPage"`
	HasNextPage bool    `json:"hasNextPage"`
}

func newPage(docs []Video, total int64, q ListQuery) Page {
	totalPages := 0
	if q.Limit > 0 {
		totalPages = int((total + int64(q.Limit) - 1) / int64(q.Limit))
	}
	return Page{
		Docs:        docs,
		TotalDocs:   total,
		Limit:       q.Limit,
		Page:        q.Page,
		TotalPages:  totalPages,
		HasPrevPage: q.Page > 1,
		HasNextPage: q.Page < totalPages,
	}
}
