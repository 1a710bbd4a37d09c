// Package dsl 提供流水线文档（YAML）的解析与条件表达式编译。
//
// 文档先经内嵌 JSON Schema 校验，再做语义校验，最后构建为
// matrix.Definition 与 workflow.Template。条件表达式在解析时编译一次，
// 由 Planner 针对每个组合求值。
package dsl
