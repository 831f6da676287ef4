package matrix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	uuid "github.com/satori/go.uuid"
	"github.com/xperimental/release-matrix/internal/config"
	"github.com/xperimental/release-matrix/internal/data"
	"gopkg.in/yaml.v2"
)

const countOutput = "count"

// Publish writes the matrix to stdout and, if configured, appends it to the step output file.
func Publish(cfg config.Output, m *data.Matrix, stdout io.Writer) error {
	if err := writeMatrix(stdout, cfg, m); err != nil {
		return fmt.Errorf("can not write matrix: %w", err)
	}

	if cfg.Path == "" {
		return nil
	}

	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("can not encode matrix: %w", err)
	}

	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("can not open output file %q: %w", cfg.Path, err)
	}
	defer file.Close()

	if err := writeOutput(file, cfg.Name, string(value)); err != nil {
		return fmt.Errorf("can not write output %q: %w", cfg.Name, err)
	}

	if err := writeOutput(file, countOutput, strconv.Itoa(len(m.Commit))); err != nil {
		return fmt.Errorf("can not write output %q: %w", countOutput, err)
	}

	return file.Close()
}

func writeMatrix(w io.Writer, cfg config.Output, m *data.Matrix) error {
	switch cfg.Format {
	case config.FormatYAML:
		out, err := yaml.Marshal(m)
		if err != nil {
			return err
		}

		_, err = w.Write(out)
		return err
	default:
		enc := json.NewEncoder(w)
		if cfg.Pretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(m)
	}
}

// writeOutput appends a name/value pair in the multi-line step output format.
func writeOutput(w io.Writer, name, value string) error {
	delimiter := "ghadelimiter_" + uuid.NewV4().String()
	if strings.Contains(name, delimiter) || strings.Contains(value, delimiter) {
		return fmt.Errorf("delimiter %q collides with output", delimiter)
	}

	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "%s<<%s\n%s\n%s\n", name, delimiter, value, delimiter)

	_, err := w.Write(buf.Bytes())
	return err
}
