package dsl

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/matrixflow/matrix"
)

// Validator 文档语义验证器，在 JSON Schema 之后运行
type Validator struct{}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

// Validate 验证文档定义，返回全部问题
func (v *Validator) Validate(doc *Document) []error {
	var errs []error

	if len(doc.Axes) == 0 {
		errs = append(errs, matrix.Configf("axes", "at least one axis is required"))
	}
	axes := make(map[string]map[string]bool, len(doc.Axes))
	for i, a := range doc.Axes {
		field := fmt.Sprintf("axes[%d]", i)
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, matrix.Configf(field, "axis name is empty"))
			continue
		}
		values := make(map[string]bool, len(a.Values))
		for _, val := range a.Values {
			values[val] = true
		}
		axes[a.Name] = values
	}

	if doc.Cache.PlatformAxis != "" && axes[doc.Cache.PlatformAxis] == nil {
		errs = append(errs, matrix.Configf("cache.platform_axis", "undeclared axis %q", doc.Cache.PlatformAxis))
	}
	if doc.Cache.RuntimeAxis != "" && axes[doc.Cache.RuntimeAxis] == nil {
		errs = append(errs, matrix.Configf("cache.runtime_axis", "undeclared axis %q", doc.Cache.RuntimeAxis))
	}

	names := make(map[string]bool, len(doc.Steps))
	for i, st := range doc.Steps {
		errs = append(errs, v.validateStep(i, &st, names)...)
	}

	resources := make(map[string]bool, len(doc.Resources))
	for i, r := range doc.Resources {
		field := fmt.Sprintf("resources[%d]", i)
		if resources[r.Name] {
			errs = append(errs, matrix.Configf(field, "duplicate resource %q", r.Name))
		}
		resources[r.Name] = true
	}

	return errs
}

func (v *Validator) validateStep(i int, st *StepDef, names map[string]bool) []error {
	var errs []error
	field := fmt.Sprintf("steps[%d]", i)

	if strings.TrimSpace(st.Name) == "" {
		errs = append(errs, matrix.Configf(field, "step name is required"))
	} else if names[st.Name] {
		errs = append(errs, matrix.Configf(field, "duplicate step name %q", st.Name))
	}
	names[st.Name] = true

	if strings.TrimSpace(st.Run) == "" {
		errs = append(errs, matrix.Configf(field+".run", "command is required"))
	}
	if st.If != "" {
		if _, err := Compile(st.If); err != nil {
			errs = append(errs, matrix.Configf(field+".if", "invalid condition %q: %v", st.If, err))
		}
	}
	if st.Timeout != "" {
		if d, err := time.ParseDuration(st.Timeout); err != nil || d <= 0 {
			errs = append(errs, matrix.Configf(field+".timeout", "invalid duration %q", st.Timeout))
		}
	}
	if st.Cache != nil {
		if len(st.Cache.Paths) == 0 {
			errs = append(errs, matrix.Configf(field+".cache.paths", "at least one path is required"))
		}
		for _, p := range append(append([]string(nil), st.Cache.Files...), st.Cache.Paths...) {
			if !isLocalPath(p) {
				errs = append(errs, matrix.Configf(field+".cache", "path %q must be relative to the job directory", p))
			}
		}
	}
	return errs
}

func isLocalPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) || strings.Contains(p, ":") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// joinErrors 合并验证错误
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
