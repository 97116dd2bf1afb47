package utils

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// Page is a requested window over a listing.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"limit"`
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Meta describes where a page sits in the full result set.
type Meta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	From    int  `json:"from"`
	To      int  `json:"to"`
	HasNext bool `json:"has_next"`
}

type pagedBody struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Meta    Meta        `json:"meta"`
}

// PageFromQuery reads ?page and ?limit. A missing or non-positive limit
// becomes def; anything above max is clamped.
func PageFromQuery(c *fiber.Ctx, def, max int) Page {
	number, err := strconv.Atoi(c.Query("page"))
	if err != nil || number < 1 {
		number = 1
	}
	size, err := strconv.Atoi(c.Query("limit"))
	if err != nil || size < 1 {
		size = def
	}
	if max > 0 && size > max {
		size = max
	}
	return Page{Number: number, Size: size}
}

// PageMeta computes the metadata for page p given total matching rows.
func PageMeta(p Page, total int) Meta {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 25
	}
	m := Meta{Page: p.Number, Limit: p.Size, Total: total}
	if total == 0 {
		return m
	}
	m.Pages = (total + p.Size - 1) / p.Size
	m.From = p.Offset() + 1
	m.To = min(p.Number*p.Size, total)
	if m.From > total {
		m.From, m.To = 0, 0
	}
	m.HasNext = p.Number < m.Pages
	return m
}

func PagedResponse(c *fiber.Ctx, message string, data interface{}, p Page, total int) error {
	return c.JSON(pagedBody{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    PageMeta(p, total),
	})
}
