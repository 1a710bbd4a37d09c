package dsl

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/matrixflow/matrix"
	"github.com/BaSui01/matrixflow/workflow"
)

//go:embed pipeline.schema.json
var pipelineSchemaSource string

const pipelineSchemaURL = "pipeline.schema.json"

// Pipeline 解析结果：矩阵定义加步骤模板
type Pipeline struct {
	Name       string
	Definition *matrix.Definition
	Template   *workflow.Template
}

// Parser 流水线文档解析器
type Parser struct {
	schema    *jsonschema.Schema
	validator *Validator
}

// NewParser 创建解析器
func NewParser() *Parser {
	return &Parser{
		schema:    jsonschema.MustCompileString(pipelineSchemaURL, pipelineSchemaSource),
		validator: NewValidator(),
	}
}

// ParseFile 从文件解析流水线文档
func (p *Parser) ParseFile(filename string) (*Pipeline, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML 字节解析流水线文档。结构问题与语义问题都以
// matrix.ConfigError 返回（可能经 errors.Join 合并）。
func (p *Parser) Parse(data []byte) (*Pipeline, error) {
	// 1. Schema 校验
	if err := p.validateSchema(data); err != nil {
		return nil, err
	}

	// 2. 解码
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, matrix.Configf("document", "decode YAML: %v", err)
	}

	// 3. 语义校验
	if err := joinErrors(p.validator.Validate(&doc)); err != nil {
		return nil, err
	}

	// 4. 构建
	return p.build(&doc)
}

func (p *Parser) validateSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return matrix.Configf("document", "parse YAML: %v", err)
	}
	if raw == nil {
		return matrix.Configf("document", "document is empty")
	}
	encoded, err := json.Marshal(normalize(raw))
	if err != nil {
		return matrix.Configf("document", "convert YAML: %v", err)
	}
	var instance any
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return matrix.Configf("document", "convert YAML: %v", err)
	}

	err = p.schema.Validate(instance)
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		var errs []error
		for _, leaf := range leafCauses(verr) {
			field := strings.TrimPrefix(leaf.InstanceLocation, "/")
			if field == "" {
				field = "document"
			}
			errs = append(errs, matrix.Configf(strings.ReplaceAll(field, "/", "."), "%s", leaf.Message))
		}
		return errors.Join(errs...)
	}
	if err != nil {
		return matrix.Configf("document", "%v", err)
	}
	return nil
}

func leafCauses(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}

// normalize 将 YAML 的非字符串键转换为字符串，便于 JSON 编码
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = normalize(x)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[fmt.Sprint(k)] = normalize(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = normalize(x)
		}
		return out
	default:
		return v
	}
}

func (p *Parser) build(doc *Document) (*Pipeline, error) {
	def := &matrix.Definition{}
	for _, a := range doc.Axes {
		def.Axes = append(def.Axes, matrix.Axis{Name: a.Name, Values: a.Values, Env: a.Env})
	}
	for _, rule := range doc.Exclude {
		def.Exclude = append(def.Exclude, matrix.ExclusionRule(rule))
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	tmpl := &workflow.Template{
		Name:         doc.Name,
		Env:          doc.Env,
		Coverage:     doc.Coverage,
		PlatformAxis: doc.Cache.PlatformAxis,
		RuntimeAxis:  doc.Cache.RuntimeAxis,
	}
	for i, st := range doc.Steps {
		step := workflow.StepTemplate{
			Name:        st.Name,
			Run:         st.Run,
			Criticality: workflow.Required,
			Env:         st.Env,
		}
		if st.Optional {
			step.Criticality = workflow.Optional
		}
		if st.If != "" {
			cond, err := Compile(st.If)
			if err != nil {
				return nil, matrix.Configf(fmt.Sprintf("steps[%d].if", i), "%v", err)
			}
			step.If = cond
		}
		if st.Timeout != "" {
			d, err := time.ParseDuration(st.Timeout)
			if err != nil {
				return nil, matrix.Configf(fmt.Sprintf("steps[%d].timeout", i), "%v", err)
			}
			step.Timeout = d
		}
		if st.Cache != nil {
			step.Cache = &workflow.CacheSpec{
				Key:   st.Cache.Key,
				Files: st.Cache.Files,
				Paths: st.Cache.Paths,
			}
		}
		tmpl.Steps = append(tmpl.Steps, step)
	}
	for _, r := range doc.Resources {
		tmpl.Resources = append(tmpl.Resources, workflow.ResourceRule{
			Name:  r.Name,
			Limit: r.Limit,
			Match: matrix.ExclusionRule(r.Match),
		})
	}
	sort.SliceStable(tmpl.Resources, func(i, j int) bool { return tmpl.Resources[i].Name < tmpl.Resources[j].Name })

	name := doc.Name
	if name == "" {
		name = "pipeline"
	}
	return &Pipeline{Name: name, Definition: def, Template: tmpl}, nil
}
