package progress

import (
	"fmt"
	"io"
	"os"
	"time"
)

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	switch {
	case n >= g:
		return fmt.Sprintf("%.2f GiB", float64(n)/float64(g))
	case n >= m:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(m))
	case n >= k:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(k))
	case n <= 0:
		return "0 B"
	}
	return fmt.Sprintf("%d B", n)
}

func FormatRate(bps float64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	if bps >= g {
		return fmt.Sprintf("%.2f GB/s", bps/float64(g))
	}
	if bps >= m {
		return fmt.Sprintf("%.1f MB/s", bps/float64(m))
	}
	if bps >= k {
		return fmt.Sprintf("%.0f KB/s", bps/float64(k))
	}
	return fmt.Sprintf("%.0f B/s", bps)
}

// FormatETA formats d as hh:mm:ss, or dashes when it is unknown.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--:--"
	}
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// IsTTY reports whether w is a terminal. Writers wrapping a file may expose
// it with a File method.
func IsTTY(w io.Writer) bool {
	var f *os.File
	switch v := w.(type) {
	case *os.File:
		f = v
	case interface{ File() *os.File }:
		f = v.File()
	}
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
