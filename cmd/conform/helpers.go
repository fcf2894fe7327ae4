package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// displayName renders codec and accelerator identifiers for table output.
// Short identifiers read better uppercased; longer names get title casing.
func displayName(name string) string {
	if len(name) <= 4 {
		return strings.ToUpper(name)
	}
	return titleCaser.String(name)
}

func formatBytes(size int64) string {
	if size <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(size))
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds * float64(time.Second))
	return d.Round(time.Second).String()
}

// formatCount pluralizes a noun with a simple trailing s.
func formatCount(noun string, n int) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
