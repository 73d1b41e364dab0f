//go:build tinygo || baremetal

package util

import "fmt"

// Embedded targets have no terminal to style, so every level goes straight
// to the serial console.

var debug bool

func LogDebug(format string, args ...interface{}) {
	if debug {
		println("DEBUG", fmt.Sprintf(format, args...))
	}
}

func LogInfo(format string, args ...interface{}) {
	println("INFO ", fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	println("INFO ", fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	println("WARN ", fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	println("ERROR", fmt.Sprintf(format, args...))
}

func EnableDebug() { debug = true }

func SetLevel(name string) bool {
	switch name {
	case "trace", "debug":
		debug = true
	case "info", "warn", "warning", "error", "disabled", "off":
		debug = false
	default:
		return false
	}
	return true
}
