package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

var bannerEmitted = false

// PrintBanner displays the startup banner once, respecting TTY state.
// Subsequent calls are no-ops.
func PrintBanner(version string) {
	if bannerEmitted {
		return
	}
	if !isTTY() {
		return
	}
	bannerEmitted = true

	fmt.Println()

	badge := color.New(color.BgCyan, color.FgBlack, color.Bold).Sprint(" ◆ SUBNETPROXY ")
	ver := Muted(version)

	topBorder := Muted(boxTopLeft + strings.Repeat(boxHorizontal, 60) + boxTopRight)
	fmt.Println(topBorder)

	titleLine := fmt.Sprintf("%s  %s %s  %s",
		Muted(boxVertical),
		badge,
		ver,
		Muted(strings.Repeat(" ", 36)+boxVertical))
	fmt.Println(titleLine)

	tagline := "Subnet-Aware Forward Proxy"
	subtitleLine := fmt.Sprintf("%s  %s%s",
		Muted(boxVertical),
		Subtle(tagline),
		Muted(strings.Repeat(" ", 60-2-len(tagline))+boxVertical))
	fmt.Println(subtitleLine)

	bottomBorder := Muted(boxBottomLeft + strings.Repeat(boxHorizontal, 60) + boxBottomRight)
	fmt.Println(bottomBorder)
	fmt.Println()
}

// isTTY checks if stdout is a terminal.
func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// ResetBanner allows the banner to be shown again (for testing).
func ResetBanner() {
	bannerEmitted = false
}
