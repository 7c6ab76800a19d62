package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML encodes v as YAML. Values go through their JSON form first so
// field names match the API.
func writeYAML(cmd *cobra.Command, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

// writeStructured handles the json and yaml formats. It reports false for
// table output so the caller renders its own view.
func writeStructured(cmd *cobra.Command, format string, v any) (bool, error) {
	switch normalizeFormat(format) {
	case formatJSON:
		return true, writeJSON(cmd, v)
	case formatYAML:
		return true, writeYAML(cmd, v)
	case formatTable:
		return false, nil
	default:
		return true, fmt.Errorf("unknown format %q (use table, json or yaml)", format)
	}
}

func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" || format == "text" {
		return formatTable
	}
	if format == "yml" {
		return formatYAML
	}
	return format
}
