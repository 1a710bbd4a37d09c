// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 run/run-all 期间可选的 HTTP 端点生命周期。

Manager 封装 net/http.Server：Start 在后台监听并服务，
Shutdown 在超时内排空连接且可重复调用，Errors 暴露异步服务错误。
监听地址端口为 0 时由系统分配，Addr 返回实际地址。
*/
package server
