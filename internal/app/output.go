package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/fpt/framebridge/internal/bridge"
)

// WriteSplashScreen writes the console banner to w, centered when w is a
// terminal wide enough for it. When colored is true, uses ANSI color codes.
func WriteSplashScreen(w io.Writer, colored bool) {
	if w == nil {
		return
	}

	lines := []string{
		"┌──────────────────────────────┐",
		"│  FRAMEBRIDGE                 │",
		"│  embedded frame controller   │",
		"└──────────────────────────────┘",
	}

	width := 0
	for _, l := range lines {
		if n := runeLen(l); n > width {
			width = n
		}
	}

	termWidth := 80
	if f, ok := w.(*os.File); ok {
		if tw, _, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 {
			termWidth = tw
		}
	}
	indent := 2
	if termWidth > width {
		if pad := (termWidth - width) / 2; pad > indent {
			indent = pad
		}
	}

	prefix, suffix := "", ""
	if colored {
		prefix = "\x1b[90m"
		suffix = "\x1b[0m"
	}
	for _, l := range lines {
		fmt.Fprintf(w, "%s%s%s%s\n", strings.Repeat(" ", indent), prefix, padRight(l, width), suffix)
	}
	fmt.Fprintln(w)
}

// WriteResponse prints a command response in a human-readable form.
func WriteResponse(w io.Writer, action string, resp bridge.Response) {
	if !resp.Success {
		fmt.Fprintf(w, "❌ %s failed: %s\n", action, resp.Message)
		if resp.IframeFound != nil && !*resp.IframeFound {
			fmt.Fprintln(w, "💡 The target frame has not been found yet. Try /rediscover or /debug.")
		}
		if resp.HiddenCount != nil {
			fmt.Fprintf(w, "   cached hidden count: %d\n", *resp.HiddenCount)
		}
		return
	}

	switch action {
	case bridge.ActionGetStats:
		fmt.Fprintf(w, "📊 Stats: %s (enabled: %s)\n", compactJSON(resp.Stats), yesNo(resp.Enabled))
	case bridge.ActionToggle:
		fmt.Fprintf(w, "🔧 Cleaner enabled: %s\n", yesNo(resp.Enabled))
	case bridge.ActionHideNow:
		fmt.Fprintf(w, "🧹 Hidden now: %d, total: %d\n", deref(resp.Hidden), deref(resp.Total))
	case bridge.ActionGetDebugInfo:
		data, err := json.MarshalIndent(resp.DebugInfo, "", "  ")
		if err != nil {
			fmt.Fprintf(w, "❌ Failed to format debug info: %v\n", err)
			return
		}
		fmt.Fprintln(w, "🔍 Debug info:")
		fmt.Fprintln(w, string(data))
	case bridge.ActionRediscover:
		fmt.Fprintln(w, "🔄 Handle cleared, searching for the target frame again.")
	default:
		fmt.Fprintln(w, "✅ Done.")
	}
}

// WriteStatus prints the short state summary.
func WriteStatus(w io.Writer, st bridge.Status) {
	fmt.Fprintln(w, "\n📊 Status:")
	fmt.Fprintf(w, "  🎯 Frame found:  %s\n", yesNo(&st.IframeFound))
	fmt.Fprintf(w, "  🔧 Enabled:      %s\n", yesNo(&st.Enabled))
	fmt.Fprintf(w, "  🧹 Hidden count: %d\n", st.HiddenCount)
	fmt.Fprintf(w, "  💉 Worker:       %s\n", st.WorkerScriptURL)
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func yesNo(b *bool) string {
	if b != nil && *b {
		return "yes"
	}
	return "no"
}

func deref(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

// runeLen returns the number of runes in s.
func runeLen(s string) int { return utf8.RuneCountInString(s) }

// padRight pads s with spaces on the right to width runes.
func padRight(s string, width int) string {
	n := runeLen(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
