// Package merge concatenates result files into a single report with one
// header row.
package merge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/stream-embed-audit/internal/sink"
)

// Extension selects the files merged from a folder.
const Extension = ".csv"

// NotFoundError reports a missing input set or an output that already exists.
type NotFoundError struct {
	Path   string
	Reason string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// DefaultOutput is the merged file name used when none is given.
func DefaultOutput(folder string, now time.Time) string {
	return filepath.Join(folder, "merged-"+now.UTC().Format(sink.TimestampLayout)+Extension)
}

// Merge writes every .csv file of folder, in directory-listing order, into
// output. The first file's header line is written once; every file then
// contributes all of its lines except its own first line. Lines are physical
// lines: a quoted field spanning several lines is not treated as one record.
// An empty output selects DefaultOutput. The written path is returned.
func Merge(folder, output string, now time.Time) (string, error) {
	if output == "" {
		output = DefaultOutput(folder, now)
	}
	if _, err := os.Stat(output); err == nil {
		return "", &NotFoundError{Path: output, Reason: "output file already exists"}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat output: %w", err)
	}

	inputs, err := listInputs(folder, output)
	if err != nil {
		return "", err
	}
	if len(inputs) == 0 {
		return "", &NotFoundError{Path: folder, Reason: "no " + Extension + " files found"}
	}

	// #nosec G304 -- output is chosen by the operator.
	out, err := os.OpenFile(output, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create output: %w", err)
	}
	w := bufio.NewWriter(out)

	headerWritten := false
	for _, in := range inputs {
		if err := appendFile(w, in, &headerWritten); err != nil {
			_ = out.Close()
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("flush output: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close output: %w", err)
	}
	return output, nil
}

func listInputs(folder, output string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Path: folder, Reason: "folder does not exist"}
		}
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	outAbs, err := filepath.Abs(output)
	if err != nil {
		return nil, fmt.Errorf("resolve output: %w", err)
	}

	var inputs []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
			continue
		}
		p := filepath.Join(folder, entry.Name())
		if abs, err := filepath.Abs(p); err == nil && abs == outAbs {
			continue
		}
		inputs = append(inputs, p)
	}
	return inputs, nil
}

func appendFile(w *bufio.Writer, path string, headerWritten *bool) error {
	// #nosec G304 -- inputs come from the operator's folder listing.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	r := bufio.NewReader(f)
	first := true
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			if first {
				first = false
				if !*headerWritten {
					*headerWritten = true
					if werr := writeLine(w, line); werr != nil {
						return werr
					}
				}
			} else if werr := writeLine(w, line); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
}

func writeLine(w *bufio.Writer, line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := w.WriteString(line); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
