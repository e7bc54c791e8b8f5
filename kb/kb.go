// Package kb holds the keyword list used to carry leader-file metadata and
// saved model state: a flat, thread-safe map from "prefix+key" to string.
package kb

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrMissingKey is returned when a required key is absent.
	ErrMissingKey = errors.New("missing key")
	// ErrMalformedValue is returned when a value cannot be converted.
	ErrMalformedValue = errors.New("malformed value")
)

// Keywordlist is an in-memory, thread-safe key/value store.
type Keywordlist struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New constructs an empty keyword list.
func New() *Keywordlist {
	return &Keywordlist{entries: make(map[string]string)}
}

// FromMap copies m into a new keyword list.
func FromMap(m map[string]string) *Keywordlist {
	k := New()
	for key, v := range m {
		k.entries[key] = v
	}
	return k
}

// Add stores value under prefix+key, replacing any previous value.
func (k *Keywordlist) Add(prefix, key, value string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[prefix+key] = value
}

// AddFloat stores v with full round-trip precision.
func (k *Keywordlist) AddFloat(prefix, key string, v float64) {
	k.Add(prefix, key, strconv.FormatFloat(v, 'g', -1, 64))
}

// AddInt stores an integer value.
func (k *Keywordlist) AddInt(prefix, key string, v int64) {
	k.Add(prefix, key, strconv.FormatInt(v, 10))
}

// AddBool stores "true" or "false".
func (k *Keywordlist) AddBool(prefix, key string, v bool) {
	k.Add(prefix, key, strconv.FormatBool(v))
}

// Find returns the raw value stored under prefix+key.
func (k *Keywordlist) Find(prefix, key string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.entries[prefix+key]
	return v, ok
}

// Has reports whether prefix+key is present.
func (k *Keywordlist) Has(prefix, key string) bool {
	_, ok := k.Find(prefix, key)
	return ok
}

// String returns the trimmed value stored under prefix+key.
func (k *Keywordlist) String(prefix, key string) (string, error) {
	v, ok := k.Find(prefix, key)
	if !ok {
		return "", errors.Wrapf(ErrMissingKey, "%q", prefix+key)
	}
	return strings.TrimSpace(v), nil
}

// Float parses the value stored under prefix+key as a float64.
func (k *Keywordlist) Float(prefix, key string) (float64, error) {
	s, err := k.String(prefix, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedValue, "%q: %q is not a number", prefix+key, s)
	}
	return v, nil
}

// Int parses the value stored under prefix+key as an integer. Integral
// floating point spellings such as "8000.0" are accepted.
func (k *Keywordlist) Int(prefix, key string) (int, error) {
	s, err := k.String(prefix, key)
	if err != nil {
		return 0, err
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, errors.Wrapf(ErrMalformedValue, "%q: %q is not an integer", prefix+key, s)
	}
	return int(f), nil
}

// Bool parses the value stored under prefix+key with strconv.ParseBool.
func (k *Keywordlist) Bool(prefix, key string) (bool, error) {
	s, err := k.String(prefix, key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.Wrapf(ErrMalformedValue, "%q: %q is not a boolean", prefix+key, s)
	}
	return v, nil
}

// Len returns the number of entries.
func (k *Keywordlist) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}

// Keys returns a sorted snapshot of all keys.
func (k *Keywordlist) Keys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	res := make([]string, 0, len(k.entries))
	for key := range k.entries {
		res = append(res, key)
	}
	sort.Strings(res)
	return res
}

// Map returns a snapshot copy of the entries.
func (k *Keywordlist) Map() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	res := make(map[string]string, len(k.entries))
	for key, v := range k.entries {
		res[key] = v
	}
	return res
}

// Merge copies every entry of other into k under prefix.
func (k *Keywordlist) Merge(prefix string, other *Keywordlist) {
	snapshot := other.Map()
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, v := range snapshot {
		k.entries[prefix+key] = v
	}
}

// Parse reads "key: value" lines. Blank lines and lines starting with "//"
// or "#" are skipped.
func Parse(r io.Reader) (*Keywordlist, error) {
	k := New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Errorf("line %d: expected \"key: value\", got %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, errors.Errorf("line %d: empty key", lineNo)
		}
		k.entries[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read keyword list")
	}
	return k, nil
}

// WriteTo writes the entries as "key: value" lines in sorted key order.
func (k *Keywordlist) WriteTo(w io.Writer) (int64, error) {
	snapshot := k.Map()
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	var n int64
	for _, key := range keys {
		c, err := fmt.Fprintf(bw, "%s: %s\n", key, snapshot[key])
		n += int64(c)
		if err != nil {
			return n, errors.Wrap(err, "write keyword list")
		}
	}
	if err := bw.Flush(); err != nil {
		return n, errors.Wrap(err, "write keyword list")
	}
	return n, nil
}
