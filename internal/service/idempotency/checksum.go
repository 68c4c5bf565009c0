package idempotency

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"payment-core/pkg/crypto_util"
	"payment-core/pkg/errno"
	"payment-core/pkg/safe_random"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{1,128}$`)

// ChecksumHeaders 参与 checksum 的请求头，其余 header (trace id、UA 等) 不影响幂等判断
var ChecksumHeaders = []string{"Content-Type", "X-Live-Mode"}

// ResolveKey 客户端没传 key 时生成一个；传了但格式不对直接拒绝
func ResolveKey(clientKey string) (string, error) {
	if clientKey == "" {
		return safe_random.GenerateRandomHexString(32)
	}
	if !keyPattern.MatchString(clientKey) {
		return "", errno.ErrIdempotencyKeyInvalid
	}
	return clientKey, nil
}

// Checksum method + 规范化 URL + 白名单 header + 规范化 body 的 SHA-256
func Checksum(method, rawURL string, header http.Header, body []byte) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(normalizeURL(rawURL))
	b.WriteByte('\n')
	for _, name := range ChecksumHeaders {
		b.WriteString(strings.ToLower(name))
		b.WriteByte(':')
		b.WriteString(strings.Join(header.Values(name), ","))
		b.WriteByte('\n')
	}
	b.Write(canonicalBody(body))
	return crypto_util.CalculateSHA256([]byte(b.String()))
}

func normalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	} else {
		u.Path = path.Clean(u.Path)
	}
	u.RawPath = ""
	u.Fragment = ""
	// Encode 按 key 排序
	u.RawQuery = u.Query().Encode()
	return u.String()
}

// canonicalBody JSON 按 key 递归排序后重新序列化；非 JSON 原样返回
func canonicalBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return body
	}
	if _, err := dec.Token(); err != io.EOF {
		return body
	}
	// map 的 key 在 Marshal 时有序，json.Number 保留原始数字文本
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}
