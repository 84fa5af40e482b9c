package ui

import (
	"fmt"
	"strings"
	"time"
)

// Box-drawing characters shared by the banner, notes, and grouped log
// output below.
const (
	boxTopLeft     = "╭"
	boxTopRight    = "╮"
	boxBottomLeft  = "╰"
	boxBottomRight = "╯"
	boxHorizontal  = "─"
	boxVertical    = "│"
)

func timestamp() string {
	return Muted(time.Now().Format("15:04:05"))
}

// LogStatus displays a status message with appropriate styling.
func LogStatus(category, message string) {
	var icon, styledMsg string

	switch category {
	case "success":
		icon = Success("✔")
		styledMsg = Success("%s", message)
	case "error":
		icon = Error("✖")
		styledMsg = Error("%s", message)
	case "warning":
		icon = Warn("⚠")
		styledMsg = Warn("%s", message)
	case "info":
		icon = Info("ℹ")
		styledMsg = Subtle("%s", message)
	default:
		icon = Muted("●")
		styledMsg = Subtle("%s", message)
	}

	fmt.Printf("%s  %s  %s\n", timestamp(), icon, styledMsg)
}

// LogSection prints a section header.
func LogSection(title string) {
	fmt.Println()
	header := fmt.Sprintf("%s %s %s",
		Muted("──"),
		Heading("%s", title),
		Muted(strings.Repeat("─", 50-len(title))))
	fmt.Println(header)
}

// LogGroup starts a grouped block of messages.
func LogGroup(title string) {
	fmt.Println()
	top := fmt.Sprintf("%s%s %s %s%s",
		Muted(boxTopLeft),
		Muted(strings.Repeat(boxHorizontal, 2)),
		AccentBright(title),
		Muted(strings.Repeat(boxHorizontal, 50-len(title))),
		Muted(boxTopRight))
	fmt.Println(top)
}

// LogGroupEnd closes a grouped block.
func LogGroupEnd() {
	bottom := Muted(boxBottomLeft + strings.Repeat(boxHorizontal, 56) + boxBottomRight)
	fmt.Println(bottom)
	fmt.Println()
}

// LogGroupItem logs a label/value pair within a group.
func LogGroupItem(label, value string) {
	line := fmt.Sprintf("%s  %s %s",
		Muted(boxVertical),
		Muted("%s:", label),
		Accent("%s", value))
	fmt.Println(line)
}

// LogTunnelOpen announces a tunnel dialing its target.
func LogTunnelOpen(target, via string) {
	fmt.Printf("%s  %s  %s %s\n",
		timestamp(),
		Success("→"),
		Accent("%-28s", target),
		Muted("(%s)", via))
}

// LogTunnelClose reports a closed tunnel's transferred bytes.
func LogTunnelClose(target string, up, down int64) {
	fmt.Printf("%s  %s  %s  %s %s  %s %s\n",
		timestamp(),
		Muted("◇"),
		Accent("%-28s", target),
		Muted("↑"), Subtle("%-8s", formatBytes(up)),
		Muted("↓"), Subtle("%-8s", formatBytes(down)))
}

// LogPolicyChange reports the subnet policy the watcher just selected.
func LogPolicyChange(description string) {
	fmt.Printf("%s  %s  %s\n", timestamp(), Info("📡"), Subtle("%s", description))
}

// formatBytes converts bytes to human-readable form.
func formatBytes(b int64) string {
	switch {
	case b < 1024:
		return fmt.Sprintf("%dB", b)
	case b < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(b)/1024)
	case b < 1024*1024*1024:
		return fmt.Sprintf("%.1fMB", float64(b)/(1024*1024))
	default:
		return fmt.Sprintf("%.1fGB", float64(b)/(1024*1024*1024))
	}
}
