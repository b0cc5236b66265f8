package tile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReadList loads a tile list file, see ParseList
func ReadList(path string, forceZoom int) ([]Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile list: %w", err)
	}
	return ParseList(data, forceZoom)
}

// ParseList parses a JSON array of {z,x,y} objects or plain text with one
// z/x/y per line. Blank lines and lines starting with # are ignored.
// A forceZoom >= 0 replaces the z of every entry. Order and duplicates are
// kept as listed.
func ParseList(data []byte, forceZoom int) ([]Key, error) {
	trimmed := bytes.TrimSpace(data)

	var keys []Key
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []struct {
			Z *int `json:"z"`
			X *int `json:"x"`
			Y *int `json:"y"`
		}
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("invalid tile list: %w", err)
		}
		for i, e := range entries {
			if e.X == nil || e.Y == nil || (e.Z == nil && forceZoom < 0) {
				return nil, fmt.Errorf("tile list entry %d is missing z, x or y", i)
			}
			k := Key{X: *e.X, Y: *e.Y}
			if e.Z != nil {
				k.Z = *e.Z
			}
			keys = append(keys, k)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(trimmed))
		line := 0
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			k, err := parseListKey(text)
			if err != nil {
				return nil, fmt.Errorf("tile list line %d: %w", line, err)
			}
			keys = append(keys, k)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	for i := range keys {
		if forceZoom >= 0 {
			keys[i].Z = forceZoom
		}
		if !keys[i].Valid() {
			return nil, fmt.Errorf("tile %s is outside the grid", keys[i])
		}
	}
	return keys, nil
}

// parseListKey is ParseKey without the grid check, which ParseList applies
// after any zoom override
func parseListKey(s string) (Key, error) {
	var k Key
	if _, err := fmt.Sscanf(s, "%d/%d/%d", &k.Z, &k.X, &k.Y); err != nil {
		return Key{}, fmt.Errorf("tile must be z/x/y, got %q", s)
	}
	if strings.Count(s, "/") != 2 {
		return Key{}, fmt.Errorf("tile must be z/x/y, got %q", s)
	}
	return k, nil
}
