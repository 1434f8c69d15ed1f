package batch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/timewarp-studio/timewarp/internal/security"
)

var (
	ErrNoItems       = errors.New("no items found in file")
	ErrInvalidItem   = errors.New("invalid batch item")
	ErrUnknownFormat = errors.New("unsupported file format")
)

// Item is one transformation to run: a source image and the era to send it
// to. Output is an optional subdirectory of the batch output directory.
type Item struct {
	Index  int
	Source string
	EraID  string
	Output string
}

type jsonItem struct {
	Image  string `json:"image"`
	Era    string `json:"era"`
	Output string `json:"output,omitempty"`
}

func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(file)
	case ".txt", "":
		return ParseText(file)
	default:
		return nil, fmt.Errorf("%w %q: use .txt or .json", ErrUnknownFormat, ext)
	}
}

// ParseText reads one "image era [output]" item per line. Blank lines and
// lines starting with # are skipped.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("%w: line %d: want \"image era [output]\"", ErrInvalidItem, line)
		}

		item := Item{Index: len(items) + 1, Source: fields[0], EraID: fields[1]}
		if len(fields) == 3 {
			item.Output = fields[2]
		}
		if err := item.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var jsonItems []jsonItem
	if err := json.Unmarshal(data, &jsonItems); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if len(jsonItems) == 0 {
		return nil, ErrNoItems
	}

	items := make([]Item, len(jsonItems))
	for i, ji := range jsonItems {
		items[i] = Item{
			Index:  i + 1,
			Source: strings.TrimSpace(ji.Image),
			EraID:  strings.TrimSpace(ji.Era),
			Output: strings.TrimSpace(ji.Output),
		}
		if err := items[i].validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
	}

	return items, nil
}

func (it Item) validate() error {
	if it.Source == "" {
		return fmt.Errorf("%w: missing image", ErrInvalidItem)
	}
	if it.EraID == "" {
		return fmt.Errorf("%w: missing era", ErrInvalidItem)
	}
	if it.Output != "" {
		if err := security.ValidateSavePath(it.Output); err != nil {
			return fmt.Errorf("%w: output %q: %v", ErrInvalidItem, it.Output, err)
		}
	}
	return nil
}
