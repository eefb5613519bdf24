package log

import (
	"fmt"
	"strings"
)

type token struct {
	key, value string
}

// tokenize splits a `key=value,key=value` configuration line.
func tokenize(line string) ([]token, error) {
	var tokens []token
	for _, part := range strings.Split(line, ",") {
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("key `%s` with no value", key)
		}
		if value == "" && key != "file" {
			return nil, fmt.Errorf("key `%s=` with no value", key)
		}
		tokens = append(tokens, token{key: key, value: value})
	}
	return tokens, nil
}
