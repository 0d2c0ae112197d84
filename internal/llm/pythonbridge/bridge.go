package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"CitizenChain/internal/llm"
)

// Client 通过调用外部 Python 脚本实现大模型推理，便于接入本地模型。
//
// 脚本从标准输入读取一个 JSON 请求，并向标准输出写入 {"thought","reply"}。
type Client struct {
	pythonExec string
	args       []string
	workingDir string
	env        []string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		args:       []string{scriptPath},
		workingDir: workingDir,
	}, nil
}

// WithEnv 追加传递给脚本的环境变量，格式为 KEY=VALUE。
func (c *Client) WithEnv(kv ...string) *Client {
	c.env = append(c.env, kv...)
	return c
}

type bridgeRequest struct {
	Task      string        `json:"task"`
	System    string        `json:"system,omitempty"`
	Prompt    string        `json:"prompt"`
	History   []llm.Message `json:"history,omitempty"`
	JSON      bool          `json:"json"`
	Timestamp int64         `json:"timestamp"`
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	encoded, err := json.Marshal(bridgeRequest{
		Task:      req.Task,
		System:    req.System,
		Prompt:    req.Prompt,
		History:   req.History,
		JSON:      req.JSON,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.args...)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	if len(c.env) > 0 {
		command.Env = append(command.Environ(), c.env...)
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("执行 Python 脚本被中断: %w", ctxErr)
		}
		return nil, fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Thought string `json:"thought"`
		Reply   string `json:"reply"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析 Python 输出失败: %w", err)
	}

	return &llm.Response{
		Thought: resp.Thought,
		Reply:   resp.Reply,
		Raw:     resp.Reply,
	}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
