// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 history 持久化每次 run-all 的作业结果，供 history 命令展示，
并为 --rerun-failed 提供每个作业的最近状态。

作业 ID 由组合确定性生成，因此跨运行稳定；运行 ID 为 UUID。
写入通过 database.PoolManager 的带重试事务完成。
*/
package history
