package config

import "fmt"

// PaginationSpec configures at most one pagination strategy (spec §4.E);
// with none set the source is fetched as a single page. Open Question 1
// (DESIGN.md) resolves the cursor-vs-link_header ambiguity by rejecting
// configs that set more than one.
type PaginationSpec struct {
	MaxPages int `yaml:"maxPages,omitempty" json:"maxPages,omitempty"`

	// MaxBytes stops pagination once the tick's accumulated response
	// bytes reach this many, regardless of what the engine would
	// otherwise do. 0 means unlimited.
	MaxBytes int64 `yaml:"maxBytes,omitempty" json:"maxBytes,omitempty"`

	LinkHeader *LinkHeaderSpec `yaml:"linkHeader,omitempty" json:"linkHeader,omitempty"`
	Cursor     *CursorSpec     `yaml:"cursor,omitempty" json:"cursor,omitempty"`
	PageOffset *PageOffsetSpec `yaml:"pageOffset,omitempty" json:"pageOffset,omitempty"`
}

type LinkHeaderSpec struct {
	Rel string `yaml:"rel,omitempty" json:"rel,omitempty"` // default "next"
}

type CursorSpec struct {
	CursorPath   string `yaml:"cursorPath" json:"cursorPath"`
	CursorParam  string `yaml:"cursorParam" json:"cursorParam"`
	HasMorePath  string `yaml:"hasMorePath,omitempty" json:"hasMorePath,omitempty"`
	OnCursorErr  string `yaml:"onCursorError,omitempty" json:"onCursorError,omitempty"` // "reset" | "fail"
}

type PageOffsetSpec struct {
	PageParam  string `yaml:"pageParam" json:"pageParam"`
	LimitParam string `yaml:"limitParam" json:"limitParam"`
	Limit      int    `yaml:"limit" json:"limit"`
}

func (p *PaginationSpec) Validate() error {
	set := 0
	if p.LinkHeader != nil {
		set++
	}
	if p.Cursor != nil {
		set++
	}
	if p.PageOffset != nil {
		set++
	}
	if set > 1 {
		return fmt.Errorf("at most one of linkHeader, cursor, pageOffset may be set")
	}

	if p.Cursor != nil {
		if p.Cursor.CursorPath == "" {
			return fmt.Errorf("cursor.cursorPath must not be empty")
		}
		if p.Cursor.CursorParam == "" {
			return fmt.Errorf("cursor.cursorParam must not be empty")
		}
		switch p.Cursor.OnCursorErr {
		case "", "reset", "fail":
		default:
			return fmt.Errorf("cursor.onCursorError must be reset or fail, got %q", p.Cursor.OnCursorErr)
		}
	}

	if p.PageOffset != nil {
		if p.PageOffset.PageParam == "" {
			return fmt.Errorf("pageOffset.pageParam must not be empty")
		}
		if p.PageOffset.LimitParam == "" {
			return fmt.Errorf("pageOffset.limitParam must not be empty")
		}
		if p.PageOffset.Limit <= 0 {
			return fmt.Errorf("pageOffset.limit must be > 0")
		}
	}
	return nil
}

// Strategy reports which pagination strategy is configured, or "" for none.
func (p *PaginationSpec) Strategy() string {
	switch {
	case p.Cursor != nil:
		return "cursor"
	case p.LinkHeader != nil:
		return "link_header"
	case p.PageOffset != nil:
		return "page_offset"
	default:
		return ""
	}
}
