package base

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// LogHex formats a labelled hex dump line for debug logs.
func LogHex(label string, b []byte) string {
	return fmt.Sprintf("%s (%d): %s", label, len(b), strings.ToUpper(hex.EncodeToString(b)))
}
