// Package mcptool exposes the roll bot as an MCP tool, so assistants can roll
// and manage defines the same way chat users do.
package mcptool
