package tgui

import "fmt"

// Page is one window of a paginated slice. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Size    int
	From    int
	To      int
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate returns the requested page of items. Out-of-range pages clamp to
// the last one.
func Paginate[T any](items []T, page, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if page >= pages {
		page = pages - 1
	}
	if page < 0 {
		page = 0
	}
	start := page * size
	end := start + size
	if end > total {
		end = total
	}
	return Page[T]{
		Items:   items[start:end],
		Index:   page,
		Size:    size,
		From:    start,
		To:      end,
		Total:   total,
		HasPrev: page > 0,
		HasNext: end < total,
	}
}

// Label returns e.g. "Page 2/5 • 11–20 of 43".
func (p Page[T]) Label() string {
	pages := (p.Total + p.Size - 1) / p.Size
	if pages == 0 {
		return "Page 1/1"
	}
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", p.Index+1, pages, p.From+1, p.To, p.Total)
}
