package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v4"

	"ollamabenchmark/internal/logging"
	"ollamabenchmark/internal/speed"
)

// Output formats of the speed and history commands
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func validFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("invalid format %q (use text, json or yaml)", format)
	}
}

func toJSON(v any) (string, error) {
	prettyJSON, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}
	return string(prettyJSON), nil
}

func toYAML(v any) (string, error) {
	yamlData, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("error marshalling yaml: %w", err)
	}
	return string(yamlData), nil
}

// writeRun prints a suite run in the requested format
func writeRun(w io.Writer, run *speed.SuiteRun, format string, logger *logging.Logger) error {
	var (
		output string
		err    error
	)
	switch format {
	case formatText:
		_, err = (&speed.Report{Run: run, Logger: logger}).WriteTo(w)
		return err
	case formatJSON:
		output, err = toJSON(run)
	case formatYAML:
		output, err = toYAML(run)
	default:
		return validFormat(format)
	}
	if err != nil {
		return fmt.Errorf("error formatting suite run: %w", err)
	}
	_, err = fmt.Fprintln(w, output)
	return err
}
