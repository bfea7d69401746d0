// 版权所有 2024 llamachat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理会话热存储使用的 Redis 连接，负责连接池、TLS、
后台健康检查与优雅关闭。

# 核心类型

  - Manager：持有 go-redis 客户端，Client() 交给 session.RedisStore。
  - Config：地址、密码、连接池大小、TLS 与健康检查间隔。
  - Stats：客户端连接池统计。
*/
package cache
