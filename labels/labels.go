// Package labels 读取 Places205 类别索引文件，把分类器输出的下标翻译成类别名。
package labels

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rushteam/alignkit/core"
)

// Table 是按行号索引的类别表。
type Table struct {
	paths []string
	names []string
}

// LoadCSV 读取 categoryindex_places205.csv，每行形如 "/a/abbey 0"。
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("labels: %s: %w", path, err)
	}
	return t, nil
}

// Parse 从 r 读取类别表。第二列（若存在）必须等于行号。
func Parse(r io.Reader) (*Table, error) {
	t := &Table{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		idx := len(t.paths)
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad index %q", line, fields[1])
			}
			if n != idx {
				return nil, fmt.Errorf("line %d: index %d, want %d", line, n, idx)
			}
		}
		t.paths = append(t.paths, fields[0])
		t.names = append(t.names, lastComponent(fields[0]))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(t.paths) == 0 {
		return nil, fmt.Errorf("empty category table")
	}
	return t, nil
}

func lastComponent(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Len 返回类别数。
func (t *Table) Len() int { return len(t.names) }

// Lookup 返回下标对应的短类别名（路径最后一段），如 "abbey"。
func (t *Table) Lookup(idx int) (string, error) {
	if idx < 0 || idx >= len(t.names) {
		return "", core.NewDomainError(core.ModuleClassifier, core.ErrorCodeNotFound,
			fmt.Sprintf("class index %d out of range [0, %d)", idx, len(t.names)))
	}
	return t.names[idx], nil
}

// Path 返回下标对应的完整类别路径，如 "/a/apartment_building/outdoor"。
func (t *Table) Path(idx int) string {
	if idx < 0 || idx >= len(t.paths) {
		return ""
	}
	return t.paths[idx]
}

// Display 把类别名转换为展示形式：living_room -> Living Room。
func Display(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

// Argmax 返回最大 logit 的下标，并列时取第一个；空输入返回 -1。
func Argmax(logits []float32) int {
	best := -1
	for i, v := range logits {
		if best < 0 || v > logits[best] {
			best = i
		}
	}
	return best
}
