// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
matrixflow 是矩阵构建运行器的命令行入口。

它读取流水线文档（默认 matrix.yaml），把坐标轴的笛卡尔积减去排除规则
展开为作业，在有界工作池上并发执行，每个作业在独立的工作目录中顺序
运行其步骤，最后合并各作业的覆盖率报告。

# 子命令

  - list [--count] [--json]：列出组合与作业 ID。
  - run <job-id>：运行单个作业，支持唯一前缀。
  - run-all [--rerun-failed]：运行全部作业并记录历史。
  - coverage merge：合并 JSON / LCOV 覆盖率文件。
  - history [--limit N]：查看最近的运行与每个作业的状态。
  - cache prune：清理过期或损坏的缓存条目。
  - version：显示版本信息。

# 退出码

0 表示全部通过，1 表示有作业失败或超时，2 表示配置或用法无效。
*/
package main
