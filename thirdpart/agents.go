package thirdpart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hamlet/api/config"
	"hamlet/api/model"
)

// agentListResponse 对应编排服务返回的 JSON 结构，也接受裸数组
type agentListResponse struct {
	Agents []model.AgentPlacement `json:"agents"`
}

// AgentSource 从编排服务读取已持久化的 agent 位置
type AgentSource struct {
	url        string
	httpClient *http.Client
}

func NewAgentSource(cfg config.AgentsConfig) *AgentSource {
	timeout := cfg.SourceTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AgentSource{url: cfg.SourceURL, httpClient: &http.Client{Timeout: timeout}}
}

// FetchAgents 请求编排服务，获取当前 agent 列表
// 没有 url 的条目会被丢弃
func (s *AgentSource) FetchAgents(ctx context.Context) ([]model.AgentPlacement, error) {
	if s.url == "" {
		return nil, fmt.Errorf("agent source url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "hamlet-world/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent source status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var agents []model.AgentPlacement
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &agents); err != nil {
			return nil, fmt.Errorf("decode agent list: %w", err)
		}
	} else {
		var raw agentListResponse
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode agent list: %w", err)
		}
		agents = raw.Agents
	}

	out := agents[:0]
	for _, a := range agents {
		if a.URL == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
