package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	mutedColor   = color.New(color.Faint)
	warnColor    = color.New(color.FgYellow)
)

// writeStructured encodes v as JSON or YAML. YAML goes through JSON first so both
// formats share field names.
func writeStructured(w io.Writer, format string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case formatJSON:
		_, err = fmt.Fprintln(w, string(payload))
		return err
	case formatYAML:
		var document any
		if err := json.Unmarshal(payload, &document); err != nil {
			return err
		}
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(document); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format %q (want %s or %s)", format, formatJSON, formatYAML)
	}
}

func progressBar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
