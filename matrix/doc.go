/*
Package matrix 提供矩阵定义与组合展开。

# 概述

Definition 声明若干轴（Axis）及其有序取值，以及排除规则（ExclusionRule）。
Expand 按声明顺序计算笛卡尔积并剔除被任一规则命中的组合，输出顺序稳定、
可复现：先按轴的声明顺序，再按每个轴内取值的声明顺序。

# 核心类型

  - Axis         ：单个维度，名称唯一，取值有序
  - ExclusionRule：部分赋值，命中即剔除
  - Combination  ：对每个轴恰好赋一个值
  - ConfigError  ：定义非法（重复轴、空轴、规则引用未声明的轴或值）
*/
package matrix
