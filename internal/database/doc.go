// 版权所有 2024 llamachat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供会话快照冷存储使用的 GORM 连接与连接池管理。

# 核心类型

  - Open / Dialector：按驱动名打开 postgres、mysql 或纯 Go sqlite。
  - PoolManager：持有 GORM DB 与底层 sql.DB，配置连接池并后台探活，
    探活成功时把 PoolStats 交给回调（用于指标）。
  - PoolConfig：最大空闲连接、最大打开连接、生命周期与健康检查间隔。
*/
package database
