package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

// formatEvent renders one event as a single line of text.
func formatEvent(e model.Event) string {
	name := e.Username
	if e.Privilege != "" {
		name = fmt.Sprintf("%s[%s]", name, e.Privilege)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-9s %s", e.DisplayTime, e.Category, name)
	switch e.Category {
	case model.CategoryGift:
		fmt.Fprintf(&b, " sent %s x%d", e.GiftName, max(e.Count, 1))
		if e.Price > 0 {
			fmt.Fprintf(&b, " (%.1f)", e.Price)
		}
	case model.CategorySuperChat:
		fmt.Fprintf(&b, " (%.0f): %s", e.Price, e.Content)
	default:
		fmt.Fprintf(&b, ": %s", e.Content)
	}
	return b.String()
}

// writeEvent writes e to w as text or as one JSON line.
func writeEvent(w io.Writer, e model.Event, format string) error {
	if format == "json" {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	_, err := fmt.Fprintln(w, formatEvent(e))
	return err
}
