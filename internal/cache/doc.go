// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供依赖获取步骤的内容寻址缓存。

# 概述

缓存键由平台、运行时版本、键模板以及指纹文件内容共同决定。
条目存放在 <dir>/<key[:2]>/<key>/ 下，先写入临时目录再原子重命名，
发布后的条目不会被原地修改。

# 核心类型

  - Manager：缓存管理器，提供 Fetch/Prune/GetStats，同一个键的
    Fetch 互斥执行，不同键互不影响。
  - FileStore：磁盘存储，负责清单、摘要校验与恢复。
  - RedisIndex：可选的共享索引，记录条目清单、TTL 与命中计数。

# 错误语义

损坏或不可读的条目记录告警并按未命中处理，随后删除该条目。
索引失败只记录告警，不影响 Fetch 的结果。
*/
package cache
