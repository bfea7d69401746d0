// 版权所有 2024 llamachat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 session 管理多个相互独立的对话会话。

每个 Session 拥有自己的 conversation.Manager，同一会话上的 Chat 调用被串行化，
不同会话之间没有共享状态。Registry 负责创建、查找、删除会话，并在配置了
Store 时把每次对话后的快照写入存储，进程重启后按需恢复。

# 存储实现

  - MemoryStore：进程内 map，用于测试和单机部署
  - RedisStore：go-redis，Lua 脚本保证版本单调递增
  - GormStore：关系数据库（PostgreSQL、MySQL、SQLite）
  - TieredStore：Redis 热存储 + 数据库冷存储，异步落盘
*/
package session
