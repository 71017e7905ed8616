// Package paths loads the pool of request paths and picks from it.
package paths

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned when a path list contains no usable entries.
var ErrEmpty = errors.New("path list is empty")

// Load reads a flat list of request paths. JSON files may hold an array of
// strings or an object with a "paths" array; .yaml/.yml files a YAML
// sequence (or a "paths" key); anything else is read one path per line.
func Load(file string) ([]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read paths: %w", err)
	}

	var list []string
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		list, err = parseJSON(data)
	case ".yaml", ".yml":
		list, err = parseYAML(data)
	default:
		list, err = parseLines(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse paths %s: %w", file, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s: %w", file, ErrEmpty)
	}
	return list, nil
}

func parseJSON(data []byte) ([]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if root.IsObject() {
		root = root.Get("paths")
	}
	if !root.IsArray() {
		return nil, errors.New(`expected an array of strings or an object with a "paths" array`)
	}

	var list []string
	var bad error
	idx := 0
	root.ForEach(func(_, value gjson.Result) bool {
		defer func() { idx++ }()
		if value.Type != gjson.String {
			bad = fmt.Errorf("index %d: expected string, got %s", idx, value.Type)
			return false
		}
		if p := strings.TrimSpace(value.String()); p != "" {
			list = append(list, p)
		}
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return list, nil
}

func parseYAML(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		var wrapped struct {
			Paths []string `yaml:"paths"`
		}
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, err
		}
		list = wrapped.Paths
	}
	return compact(list), nil
}

func parseLines(data []byte) ([]string, error) {
	var list []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		list = append(list, line)
	}
	return list, scanner.Err()
}

func compact(list []string) []string {
	out := list[:0]
	for _, p := range list {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Pool is a read-only path list with uniform random selection. It is safe
// for concurrent use.
type Pool struct {
	paths []string
	mu    sync.Mutex
	rnd   *rand.Rand
}

// NewPool wraps paths. A zero seed seeds from the clock.
func NewPool(paths []string, seed int64) (*Pool, error) {
	if len(paths) == 0 {
		return nil, ErrEmpty
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Pool{
		paths: append([]string(nil), paths...),
		rnd:   rand.New(rand.NewSource(seed)),
	}, nil
}

// Pick returns a uniformly chosen path.
func (p *Pool) Pick() string {
	p.mu.Lock()
	idx := p.rnd.Intn(len(p.paths))
	p.mu.Unlock()
	return p.paths[idx]
}

// Len returns the number of paths in the pool.
func (p *Pool) Len() int {
	return len(p.paths)
}
