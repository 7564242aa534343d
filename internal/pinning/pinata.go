// Package pinning uploads auction artwork and NFT metadata to IPFS through
// the Pinata pinning service.
package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	xerrors "BidToEarn-Agent/internal/errors"
)

const (
	defaultBaseURL = "https://api.pinata.cloud"
	defaultGateway = "gateway.pinata.cloud"
	defaultTimeout = 60 * time.Second
)

// Config 描述 Pinata 客户端的连接参数。
type Config struct {
	JWT     string
	BaseURL string
	Gateway string
	Timeout time.Duration
}

// Result 是一次固定操作的结果。IPFSURL 写入链上元数据，GatewayURL
// 供浏览器直接访问。
type Result struct {
	Hash       string `json:"hash"`
	IPFSURL    string `json:"ipfsUrl"`
	GatewayURL string `json:"gatewayUrl"`
}

// Service 抽象 IPFS 固定能力，便于在测试中替换。
type Service interface {
	PinFile(ctx context.Context, name string, content io.Reader) (*Result, error)
	PinJSON(ctx context.Context, name string, payload any) (*Result, error)
}

// Client 通过 HTTP 调用 Pinata API。
type Client struct {
	jwt        string
	baseURL    string
	gateway    string
	httpClient *http.Client
}

// NewClient 根据配置创建 Pinata 客户端。
func NewClient(cfg Config) (*Client, error) {
	jwt := strings.TrimSpace(cfg.JWT)
	if jwt == "" {
		return nil, errors.New("未提供 Pinata JWT")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	gateway := strings.TrimSpace(cfg.Gateway)
	if gateway == "" {
		gateway = defaultGateway
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		jwt:     jwt,
		baseURL: baseURL,
		gateway: gateway,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// PinFile 将文件内容固定到 IPFS。
func (c *Client) PinFile(ctx context.Context, name string, content io.Reader) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "构建上传表单失败")
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "读取上传内容失败")
	}

	metadata, _ := json.Marshal(map[string]string{"name": name})
	if err := writer.WriteField("pinataMetadata", string(metadata)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "写入上传元数据失败")
	}
	if err := writer.Close(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "关闭上传表单失败")
	}

	return c.pin(ctx, "/pinning/pinFileToIPFS", writer.FormDataContentType(), &body)
}

// PinJSON 将 JSON 文档固定到 IPFS，用于 NFT 元数据。
func (c *Client) PinJSON(ctx context.Context, name string, payload any) (*Result, error) {
	body, err := json.Marshal(map[string]any{
		"pinataContent":  payload,
		"pinataMetadata": map[string]string{"name": name},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化元数据失败")
	}
	return c.pin(ctx, "/pinning/pinJSONToIPFS", "application/json", bytes.NewReader(body))
}

func (c *Client) pin(ctx context.Context, path, contentType string, body io.Reader) (*Result, error) {
	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "构建 Pinata 请求失败")
	}
	req.Header.Set("Authorization", "Bearer "+c.jwt)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "请求 Pinata 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeUpstream,
			fmt.Sprintf("Pinata 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var decoded struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "解析 Pinata 响应失败")
	}
	if decoded.IpfsHash == "" {
		return nil, xerrors.New(xerrors.CodeUpstream, "Pinata 响应缺少 IpfsHash")
	}

	return &Result{
		Hash:       decoded.IpfsHash,
		IPFSURL:    "ipfs://" + decoded.IpfsHash,
		GatewayURL: fmt.Sprintf("https://%s/ipfs/%s", c.gateway, decoded.IpfsHash),
	}, nil
}

var _ Service = (*Client)(nil)
