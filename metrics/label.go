package metrics

// Label 指标标签
//
// 标签值应保持低基数：可以用 topic、admin 类型、操作名，不要用端点 UUID。
type Label struct {
	Key   string
	Value string
}

// L 创建一个 Label
func L(key, value string) Label {
	return Label{
		Key:   key,
		Value: value,
	}
}
