// Package tlsutil 提供出站连接（推理后端 HTTP、Redis）共用的 TLS 配置：
// TLS 1.2+，仅 AEAD 密码套件。
package tlsutil
