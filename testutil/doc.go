// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 matrixflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 日志: Logger 把 warn 及以上输出到测试日志
  - 文件: WriteTree / ReadFile 构造作业目录与流水线文件
  - 平台: RequirePOSIXShell 跳过依赖 sh 的测试
  - 异步断言: AssertEventuallyTrue / WaitFor
*/
package testutil
