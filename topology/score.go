package topology

import "github.com/ceyewan/pubsub/endpoint"

// 常用得分
const (
	NoMatchScore   = 0.0
	FullMatchScore = 100.0
)

// QoS 取值
const (
	QoSSample  = "sample"
	QoSControl = "control"
)

// MatchScore 是 admin 实现 Score 的常用辅助函数
//
// 端点请求的 admin 类型与 adminType 不一致时为 NoMatchScore；
// 否则按 qos 属性取 sampleScore 或 controlScore，未设置 qos 时取 defaultScore。
func MatchScore(ep *endpoint.Endpoint, adminType string, sampleScore, controlScore, defaultScore float64) float64 {
	if ep == nil || ep.AdminType != adminType {
		return NoMatchScore
	}
	switch ep.Properties[endpoint.KeyQoS] {
	case QoSSample:
		return sampleScore
	case QoSControl:
		return controlScore
	default:
		return defaultScore
	}
}
