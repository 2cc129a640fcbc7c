package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt64
	FieldFile
)

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
}

// Command defines a CLI command binding.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	Multipart    bool
	Fields       []Field
}

// Key is the "service action" lookup key.
func (c Command) Key() string {
	return fmt.Sprintf("%s %s", c.Service, c.Action)
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ParseLine splits `<service> <action> key=value ...` with shell quoting rules.
func ParseLine(line string) (string, Params, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return "", nil, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return "", nil, fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	params := Params{}
	for _, token := range tokens[2:] {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			return "", nil, fmt.Errorf("invalid param: %s", token)
		}
		params.Set(key, value)
	}
	return tokens[0] + " " + tokens[1], params, nil
}

func ParseInt64(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file failed: %w", err)
	}
	return data, nil
}
