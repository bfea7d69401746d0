package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// ClientOptions 是出站 HTTP 客户端参数.
type ClientOptions struct {
	Timeout time.Duration
	// InsecureSkipVerify 仅用于内网自签名证书的推理节点。
	InsecureSkipVerify bool
	MaxIdleConns       int
}

// Config returns a hardened TLS configuration.
func Config(insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // opt-in for self-signed inference hosts
	}
}

// HTTPClient returns an http.Client with TLS hardening.
// 生成请求可能很慢，Timeout 为零时不设置客户端超时，由调用方的 context 控制。
func HTTPClient(opts ClientOptions) *http.Client {
	maxIdle := opts.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 16
	}
	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: Config(opts.InsecureSkipVerify),
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          maxIdle,
			MaxIdleConnsPerHost:   maxIdle,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
