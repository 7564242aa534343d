package api

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	xerrors "BidToEarn-Agent/internal/errors"
)

// maxUploadBytes 限制单次上传体积为 10MiB。
const maxUploadBytes = 10 << 20

var allowedImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

type pinResponse struct {
	Success    bool   `json:"success"`
	Hash       string `json:"hash"`
	IPFSURL    string `json:"ipfsUrl"`
	GatewayURL string `json:"gatewayUrl"`
}

// handleUpload 接收拍卖品图片并固定到 IPFS。
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 POST")
		return
	}
	if s.pinner == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "未配置 IPFS 固定服务")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, xerrors.CodeInvalidArgument, "上传内容超过 10MB 限制或表单无效")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "缺少 file 字段")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedImageExts[ext] {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument,
			"仅支持 jpg/jpeg/png/gif 格式的图片")
		return
	}

	result, err := s.pinner.PinFile(r.Context(), header.Filename, file)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pinResponse{
		Success:    true,
		Hash:       result.Hash,
		IPFSURL:    result.IPFSURL,
		GatewayURL: result.GatewayURL,
	})
}

type metadataRequest struct {
	Name     string          `json:"name"`
	Metadata json.RawMessage `json:"metadata"`
}

// handleUploadMetadata 将 NFT 元数据 JSON 固定到 IPFS。
func (s *Server) handleUploadMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 POST")
		return
	}
	if s.pinner == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "未配置 IPFS 固定服务")
		return
	}

	var req metadataRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}
	if len(req.Metadata) == 0 {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "metadata 不能为空")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "metadata.json"
	}

	result, err := s.pinner.PinJSON(r.Context(), name, req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pinResponse{
		Success:    true,
		Hash:       result.Hash,
		IPFSURL:    result.IPFSURL,
		GatewayURL: result.GatewayURL,
	})
}
