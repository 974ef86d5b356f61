package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	errEmptyAnswer = errors.New("empty llm answer")
	errNoArray     = errors.New("no json array in llm answer")
)

// decodeArray parses a JSON array out of a model answer. Code fences are
// dropped first; when the whole answer is not an array, the text between the
// first '[' and the last ']' is tried.
func decodeArray[T any](content string) ([]T, error) {
	cleaned := stripFences(content)
	if cleaned == "" {
		return nil, errEmptyAnswer
	}

	var items []T
	if err := json.Unmarshal([]byte(cleaned), &items); err == nil {
		return items, nil
	}

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil, errNoArray
	}

	items = nil
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("decode json array: %w", err)
	}
	return items, nil
}

func stripFences(content string) string {
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	return strings.TrimSpace(content)
}

// flexIndex accepts 3, 3.0 and "3". Null and non-numeric strings decode to -1
// so the item is ignored; any other shape is a decoding error. Fields hold a
// *flexIndex so an absent key stays distinguishable from index 0.
type flexIndex int

// position returns the decoded index, or -1 when the key was absent or null.
func (f *flexIndex) position() int {
	if f == nil {
		return -1
	}
	return int(*f)
}

func (f *flexIndex) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = -1
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 0 {
			*f = -1
			return nil
		}
		*f = flexIndex(n)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("index must be a number: %w", err)
	}
	if n != math.Trunc(n) || n < 0 {
		*f = -1
		return nil
	}
	*f = flexIndex(n)
	return nil
}
