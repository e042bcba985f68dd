package utils

import (
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

type CatchupHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewCatchupHTTPClient builds a client for long-running media transfers. The
// client has no overall deadline; cfg.Timeout bounds dialing and waiting for
// response headers, and callers bound the body read through the request
// context.
func NewCatchupHTTPClient(cfg HTTPClientConfig) *CatchupHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}
	if cfg.LargeBuffers {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setSocketOptions(fd)
			})
		}
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		IdleConnTimeout:       cfg.KATimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		DisableCompression:    true,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &CatchupHTTPClient{
		client: &http.Client{
			Transport: transport,
		},
		config: cfg,
	}
}

func (c *CatchupHTTPClient) Config() HTTPClientConfig {
	return c.config
}

func (c *CatchupHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

// CloseIdleConnections drops pooled connections so the next request dials
// a fresh one.
func (c *CatchupHTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// ProxyEnv renders the proxy settings as environment entries for child
// processes such as wget.
func (c HTTPClientConfig) ProxyEnv() []string {
	if c.ProxyURL == "" {
		return nil
	}
	proxyURL, err := url.Parse(c.ProxyURL)
	if err != nil {
		return nil
	}
	if c.ProxyUsername != "" {
		if c.ProxyPassword != "" {
			proxyURL.User = url.UserPassword(c.ProxyUsername, c.ProxyPassword)
		} else {
			proxyURL.User = url.User(c.ProxyUsername)
		}
	}
	p := proxyURL.String()
	return []string{"http_proxy=" + p, "https_proxy=" + p, "HTTP_PROXY=" + p, "HTTPS_PROXY=" + p}
}
