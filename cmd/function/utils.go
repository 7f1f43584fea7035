package function

import (
	"fmt"
	"os"
	"strings"
)

// splitKeyValue splits a string in format "key=value" into a tuple ["key", "value"].
// If the string doesn't contain "=", returns a slice with the original string.
func splitKeyValue(input string) []string {
	parts := strings.SplitN(input, "=", 2)
	return parts
}

// parseHeaders turns repeated "Name=value" flags into a header map. Values of
// the same name keep their order.
func parseHeaders(pairs []string) (map[string][]string, error) {
	headers := make(map[string][]string)
	for _, pair := range pairs {
		kv := splitKeyValue(pair)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, fmt.Errorf("invalid header %q: expected Name=value", pair)
		}
		name := strings.TrimSpace(kv[0])
		headers[name] = append(headers[name], kv[1])
	}
	return headers, nil
}

// readPayload returns body, or the contents of the file named after a
// leading "@".
func readPayload(body string) ([]byte, error) {
	if path, ok := strings.CutPrefix(body, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read body file: %w", err)
		}
		return data, nil
	}
	return []byte(body), nil
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
