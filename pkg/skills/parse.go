package skills

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(meta.Meta))

// optionalFields are decoded weakly so a scalar tag becomes a one-element list.
type optionalFields struct {
	Type             string   `mapstructure:"type"`
	Tags             []string `mapstructure:"tags"`
	DecisionTriggers []string `mapstructure:"decision_triggers"`
}

// Parse validates one SKILL.md. It returns a nil descriptor when the file
// must be dropped; the issues explain why. A descriptor returned alongside
// issues was admitted with degraded optional fields.
func Parse(relPath string, content []byte) (*Descriptor, []Issue) {
	front, err := frontmatter(content)
	if err != nil {
		return nil, []Issue{{Path: relPath, Message: "invalid frontmatter", Err: err}}
	}
	if front == nil {
		return nil, []Issue{{Path: relPath, Message: "missing frontmatter block"}}
	}

	name, ok := requiredString(front, "name")
	if !ok {
		return nil, []Issue{{Path: relPath, Message: "frontmatter field 'name' must be a non-empty string"}}
	}
	description, ok := requiredString(front, "description")
	if !ok {
		return nil, []Issue{{Path: relPath, Message: "frontmatter field 'description' must be a non-empty string"}}
	}

	d := &Descriptor{
		RelativePath:   relPath,
		Name:           name,
		Description:    description,
		Body:           extractBody(string(content)),
		RawFrontmatter: front,
		Tags:           []string{},
	}

	var opt optionalFields
	issues := decodeOptional(relPath, front, &opt)
	d.Type = strings.ToLower(strings.TrimSpace(opt.Type))
	d.Tags = normalizeList(opt.Tags)
	for _, trigger := range opt.DecisionTriggers {
		if trigger = strings.TrimSpace(trigger); trigger != "" {
			d.DecisionTriggers = append(d.DecisionTriggers, trigger)
		}
	}

	if v, exists := front["version"]; exists && v != nil {
		d.Version = strings.TrimSpace(fmt.Sprint(v))
	}

	if raw, exists := front["parameters"]; exists && raw != nil {
		if params, ok := raw.(map[string]any); ok {
			d.Parameters = params
		} else {
			issues = append(issues, Issue{
				Path:    relPath,
				Message: fmt.Sprintf("frontmatter field 'parameters' must be a mapping, got %T; ignoring it", raw),
			})
		}
	}

	return d, issues
}

// frontmatter returns nil, nil when the document has no metadata block.
func frontmatter(content []byte) (map[string]any, error) {
	if !strings.HasPrefix(strings.TrimLeft(string(content), "\ufeff"), "---") {
		return nil, nil
	}

	pctx := parser.NewContext()
	markdown.Parser().Parse(text.NewReader(content), parser.WithContext(pctx))

	data, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	if data == nil {
		return nil, nil
	}
	return normalizeMap(data), nil
}

// normalizeMap converts the map[interface{}]interface{} values produced by the
// YAML decoder into map[string]any so the result can be JSON encoded.
func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return out
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

func requiredString(front map[string]any, key string) (string, bool) {
	s, ok := front[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// decodeOptional decodes each optional field on its own, so a malformed field
// is reported and left empty without discarding the others.
func decodeOptional(relPath string, front map[string]any, out *optionalFields) []Issue {
	var issues []Issue
	report := func(key string, err error) {
		if err != nil {
			issues = append(issues, Issue{
				Path:    relPath,
				Message: fmt.Sprintf("ignoring malformed frontmatter field '%s'", key),
				Err:     err,
			})
		}
	}
	report("type", decodeField(front, "type", &out.Type))
	report("tags", decodeField(front, "tags", &out.Tags))
	report("decision_triggers", decodeField(front, "decision_triggers", &out.DecisionTriggers))
	return issues
}

// decodeField weakly decodes front[key] into target, leaving target untouched
// when the key is absent or the value does not fit.
func decodeField[T any](front map[string]any, key string, target *T) error {
	v, ok := front[key]
	if !ok || v == nil {
		return nil
	}
	var decoded T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &decoded,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(v); err != nil {
		return err
	}
	*target = decoded
	return nil
}

// extractBody drops the frontmatter block and leading blank lines.
func extractBody(content string) string {
	content = strings.TrimLeft(content, "\ufeff")
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return content
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\r\n")
		}
	}
	return ""
}
