package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"sort"
	"strings"
)

var tripleFields = []Field{
	{Name: "problem_name", Aliases: []string{"problem", "name"}, Prompt: "problem_name", Type: FieldString, Required: true},
	{Name: "problem_id", Aliases: []string{"pid"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
	{Name: "user_id", Aliases: []string{"uid", "user"}, Prompt: "user_id", Type: FieldInt64, Required: true},
}

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{Service: "sandbox", Action: "provision", Method: "POST", PathTemplate: "/api/v1/sandbox/provision", Fields: tripleFields},
		{Service: "sandbox", Action: "teardown", Method: "POST", PathTemplate: "/api/v1/sandbox/teardown", Fields: tripleFields},
		{Service: "sandbox", Action: "suspend", Method: "POST", PathTemplate: "/api/v1/sandbox/suspend", Fields: tripleFields},
		{Service: "sandbox", Action: "resume", Method: "POST", PathTemplate: "/api/v1/sandbox/resume", Fields: tripleFields},
		{Service: "sandbox", Action: "describe", Method: "GET", PathTemplate: "/api/v1/sandbox/:problem_name/:problem_id/:user_id", Fields: tripleFields},
		{
			Service:      "sandbox",
			Action:       "verify",
			Method:       "POST",
			PathTemplate: "/api/v1/sandbox/flags/verify",
			Fields: []Field{
				{Name: "flag", Prompt: "flag", Type: FieldString, Required: true},
				{Name: "flag_digest", Aliases: []string{"digest"}, Prompt: "flag_digest", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "image",
			Action:       "build",
			Method:       "POST",
			PathTemplate: "/api/v1/sandbox/images/build",
			Fields: []Field{
				tripleFields[0],
				tripleFields[1],
				{Name: "archive_bucket", Aliases: []string{"bucket"}, Prompt: "archive_bucket", Type: FieldString},
				{Name: "archive_key", Aliases: []string{"key"}, Prompt: "archive_key", Type: FieldString},
			},
		},
		{
			Service:      "image",
			Action:       "upload",
			Method:       "POST",
			PathTemplate: "/api/v1/sandbox/archives",
			Multipart:    true,
			Fields: []Field{
				tripleFields[0],
				tripleFields[1],
				{Name: "file", Aliases: []string{"archive"}, Prompt: "archive file (.tar, .tar.gz, .tgz, .tar.zst)", Type: FieldFile, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Keys returns the sorted command keys.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			return RequestSpec{}, fmt.Errorf("missing parameter: %s", field.Name)
		}
	}
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	spec := RequestSpec{Method: cmd.Method, Path: path, Headers: map[string]string{}}
	if cmd.Method == "GET" || cmd.Method == "DELETE" {
		return spec, nil
	}

	if cmd.Multipart {
		body, contentType, err := buildMultipart(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		spec.Body = body
		spec.Headers["Content-Type"] = contentType
		return spec, nil
	}

	payload, err := buildPayload(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}
	spec.Body, err = json.Marshal(payload)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
	}
	return spec, nil
}

func buildPath(template string, params Params) (string, error) {
	segments := strings.Split(template, "/")
	for i, segment := range segments {
		if !strings.HasPrefix(segment, ":") {
			continue
		}
		key := segment[1:]
		value := params.Get(key)
		if value == "" {
			return "", fmt.Errorf("missing path parameter: %s", key)
		}
		segments[i] = value
	}
	return strings.Join(segments, "/"), nil
}

func buildPayload(cmd Command, params Params) (map[string]interface{}, error) {
	payload := make(map[string]interface{}, len(cmd.Fields))
	for _, field := range cmd.Fields {
		value := params.Get(field.Name)
		if value == "" {
			continue
		}
		switch field.Type {
		case FieldInt64:
			n, err := ParseInt64(value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.Name] = n
		default:
			payload[field.Name] = value
		}
	}
	return payload, nil
}

func buildMultipart(cmd Command, params Params) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, field := range cmd.Fields {
		value := params.Get(field.Name)
		if value == "" {
			continue
		}
		if field.Type != FieldFile {
			if field.Type == FieldInt64 {
				if _, err := ParseInt64(value); err != nil {
					return nil, "", fmt.Errorf("invalid %s: %w", field.Name, err)
				}
			}
			if err := writer.WriteField(field.Name, value); err != nil {
				return nil, "", fmt.Errorf("write form field failed: %w", err)
			}
			continue
		}
		data, err := ReadFile(value)
		if err != nil {
			return nil, "", err
		}
		part, err := writer.CreateFormFile(field.Name, filepath.Base(value))
		if err != nil {
			return nil, "", fmt.Errorf("create form file failed: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("write form file failed: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body failed: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}
