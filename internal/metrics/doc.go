// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的运行指标采集。

# 概述

Collector 在独立的 Registry 上注册指标，实现 workflow.Observer，
由 Executor 在每个步骤与作业结束时回调。一次运行结束后可通过
WriteTextfile 以 node_exporter textfile 格式落盘。

# 主要指标

  - jobs_total / job_duration_seconds：按 status 分组。
  - steps_total / step_duration_seconds：按 status 与 cache（hit/miss/none）分组。
  - cache_events：缓存命中、未命中与损坏条目数。
  - db_connections_open / db_connections_idle：历史库连接数。
*/
package metrics
