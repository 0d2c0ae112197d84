package agent

import "fmt"

// Category 表示提案类别。
type Category string

const (
	CategoryStandard       Category = "standard"
	CategoryConstitutional Category = "constitutional"
)

// Valid 判断类别是否为已定义的取值。
func (c Category) Valid() bool {
	switch c {
	case CategoryStandard, CategoryConstitutional:
		return true
	}
	return false
}

// Support 表示对提案的立场。
type Support string

const (
	SupportAgainst Support = "against"
	SupportFor     Support = "for"
	SupportAbstain Support = "abstain"
)

// Valid 判断立场是否为已定义的取值。
func (s Support) Valid() bool {
	switch s {
	case SupportAgainst, SupportFor, SupportAbstain:
		return true
	}
	return false
}

// HealthState 表示智能体的健康状态。
type HealthState string

const (
	HealthOK       HealthState = "ok"
	HealthDegraded HealthState = "degraded"
	HealthOffline  HealthState = "offline"
)

// Valid 判断健康状态是否为已定义的取值。
func (h HealthState) Valid() bool {
	switch h {
	case HealthOK, HealthDegraded, HealthOffline:
		return true
	}
	return false
}

// Proposal 是提交给公民评估的治理提案。按值传递，评估过程不会修改调用方持有的提案。
type Proposal struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
}

// Position 是公民对提案给出的立场，Confidence 取值范围为 [0, 1]。
type Position struct {
	Support    Support `json:"support"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// ArticleReview 是对宪法条款的审阅意见。
type ArticleReview struct {
	Comments          []string `json:"comments"`
	SuggestedEdits    []string `json:"suggested_edits"`
	OverallAssessment string   `json:"overall_assessment"`
}

// HealthStatus 描述智能体当前的运行状况。
type HealthStatus struct {
	Status        HealthState `json:"status"`
	UptimeSeconds uint64      `json:"uptime_seconds"`
	LastAction    string      `json:"last_action"`
}

// ModelInfo 记录驱动智能体的模型来源。
type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Version  string `json:"version"`
}

// Identity 在智能体构造时确定，运行期间保持不变。
type Identity struct {
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Operator  string    `json:"operator"`
	Model     ModelInfo `json:"model_info"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s (%s) operated by %s", id.AgentName, id.AgentID, id.Operator)
}
