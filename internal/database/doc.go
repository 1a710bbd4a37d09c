// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开运行历史所用的数据库并管理连接池。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 Ping、Close、
    事务与带退避的事务重试。
  - PoolConfig：连接池参数与健康检查间隔。

# 驱动

sqlite（github.com/glebarez/sqlite，纯 Go，无需 cgo）为默认驱动，
另支持 postgres 与 mysql。sqlite 连接数固定为 1，避免写锁冲突；
"database is locked" 属于可重试错误。
*/
package database
