// Package endpoint 定义发布/订阅端点描述符。
//
// 端点由 UUID 唯一标识，归属于某个 (scope, topic)。本地端点由宿主框架
// 通过 New/FromProperties 创建，远端端点由目录中的 JSON 值经 FromJSON 解析得到。
// 端点在通过 Validate 之后视为不可变，需要修改时先 Clone。
package endpoint

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ceyewan/pubsub/xerrors"
)

// 端点属性键
const (
	KeyTopic         = "pubsub.topic.name"
	KeyScope         = "pubsub.topic.scope"
	KeyUUID          = "pubsub.endpoint.uuid"
	KeyFrameworkUUID = "pubsub.framework.uuid"
	KeyType          = "pubsub.endpoint.type"
	KeyVisibility    = "pubsub.endpoint.visibility"
	KeyAdminType     = "pubsub.config"
	KeySerializer    = "pubsub.serializer"
	KeyProtocol      = "pubsub.protocol"
	KeyQoS           = "qos"
	KeyURL           = "pubsub.url"
	KeyServiceID     = "service.id"
	KeyBundleID      = "bundle.id"
)

// DefaultScope 未指定 scope 时使用的默认值
const DefaultScope = "default"

// Type 端点类型
type Type string

const (
	Publisher  Type = "publisher"
	Subscriber Type = "subscriber"
)

// Visibility 端点可见性，只有 system 级别的端点会被写入共享目录
type Visibility string

const (
	VisibilitySystem Visibility = "system"
	VisibilityHost   Visibility = "host"
	VisibilityLocal  Visibility = "local"
)

// Endpoint 描述一个发布者或订阅者
type Endpoint struct {
	Type           Type
	AdminType      string
	SerializerType string
	Scope          string
	Topic          string
	FrameworkUUID  string
	UUID           string
	ServiceID      int64 // 0 表示未设置
	BundleID       int64 // 0 表示未设置
	URL            string

	// Properties 其余属性，不包含上面已展开的字段
	Properties map[string]string
}

// New 为本地端点创建描述符，自动生成 UUID，scope 为空时使用 DefaultScope。
func New(frameworkUUID, scope, topic string, typ Type, adminType, serializer string, props map[string]string) *Endpoint {
	if scope == "" {
		scope = DefaultScope
	}
	ep := &Endpoint{
		Type:           typ,
		AdminType:      adminType,
		SerializerType: serializer,
		Scope:          scope,
		Topic:          topic,
		FrameworkUUID:  frameworkUUID,
		UUID:           uuid.NewString(),
		Properties:     map[string]string{},
	}
	for k, v := range props {
		ep.set(k, v)
	}
	return ep
}

// FromProperties 从属性集合构造端点，缺少必填属性时返回 ErrInvalidEndpoint。
func FromProperties(props map[string]string) (*Endpoint, error) {
	ep := &Endpoint{Properties: map[string]string{}}
	for k, v := range props {
		ep.set(k, v)
	}
	if ep.Scope == "" {
		ep.Scope = DefaultScope
	}
	if err := ep.validate(); err != nil {
		return nil, err
	}
	return ep, nil
}

// FromJSON 解析目录中的 JSON 值。
//
// 值不是 JSON 对象时返回 ErrMalformedPayload；缺少必填属性时返回 ErrInvalidEndpoint。
// 非字符串的属性值会被转换成字符串。
func FromJSON(data []byte) (*Endpoint, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Wrap(ErrMalformedPayload, err.Error())
	}
	if raw == nil {
		return nil, xerrors.Wrap(ErrMalformedPayload, "value is not an object")
	}
	props := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			props[k] = val
		case nil:
		default:
			b, _ := json.Marshal(val)
			props[k] = string(b)
		}
	}
	return FromProperties(props)
}

// ToJSON 将端点序列化为扁平的 JSON 对象（属性名 -> 字符串值）。
func (e *Endpoint) ToJSON() ([]byte, error) {
	return json.Marshal(e.ToProperties())
}

// ToProperties 返回包含所有字段的属性集合副本。
func (e *Endpoint) ToProperties() map[string]string {
	props := make(map[string]string, len(e.Properties)+10)
	maps.Copy(props, e.Properties)
	putIfSet(props, KeyType, string(e.Type))
	putIfSet(props, KeyAdminType, e.AdminType)
	putIfSet(props, KeySerializer, e.SerializerType)
	putIfSet(props, KeyScope, e.Scope)
	putIfSet(props, KeyTopic, e.Topic)
	putIfSet(props, KeyFrameworkUUID, e.FrameworkUUID)
	putIfSet(props, KeyUUID, e.UUID)
	putIfSet(props, KeyURL, e.URL)
	if e.ServiceID != 0 {
		props[KeyServiceID] = strconv.FormatInt(e.ServiceID, 10)
	}
	if e.BundleID != 0 {
		props[KeyBundleID] = strconv.FormatInt(e.BundleID, 10)
	}
	return props
}

// Validate 检查必填属性是否齐全：uuid、framework uuid、type、admin type、topic。
func (e *Endpoint) Validate() bool {
	return e.validate() == nil
}

func (e *Endpoint) validate() error {
	if e == nil {
		return xerrors.Wrap(ErrInvalidEndpoint, "nil endpoint")
	}
	var missing []string
	if e.UUID == "" {
		missing = append(missing, KeyUUID)
	}
	if e.FrameworkUUID == "" {
		missing = append(missing, KeyFrameworkUUID)
	}
	if e.Type == "" {
		missing = append(missing, KeyType)
	}
	if e.AdminType == "" {
		missing = append(missing, KeyAdminType)
	}
	if e.Topic == "" {
		missing = append(missing, KeyTopic)
	}
	if len(missing) > 0 {
		return xerrors.Wrapf(ErrInvalidEndpoint, "missing %s", strings.Join(missing, ","))
	}
	return nil
}

// Err 与 Validate 相同，但返回具体缺失的属性。
func (e *Endpoint) Err() error {
	return e.validate()
}

// Equals 按 UUID 判断相等
func (e *Endpoint) Equals(other *Endpoint) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.UUID == other.UUID
}

// SameContent 判断两个端点的所有属性是否完全一致
func (e *Endpoint) SameContent(other *Endpoint) bool {
	if e == nil || other == nil {
		return e == other
	}
	return maps.Equal(e.ToProperties(), other.ToProperties())
}

// ScopeTopicKey 返回 "scope:topic"
func (e *Endpoint) ScopeTopicKey() string {
	return ScopeTopicKey(e.Scope, e.Topic)
}

// Visibility 返回端点可见性，未设置时为 system
func (e *Endpoint) Visibility() Visibility {
	if v, ok := e.Properties[KeyVisibility]; ok && v != "" {
		return Visibility(v)
	}
	return VisibilitySystem
}

// Get 返回任意属性的值，包括已展开的字段
func (e *Endpoint) Get(key string) string {
	return e.ToProperties()[key]
}

// Clone 深拷贝
func (e *Endpoint) Clone() *Endpoint {
	if e == nil {
		return nil
	}
	c := *e
	c.Properties = maps.Clone(e.Properties)
	if c.Properties == nil {
		c.Properties = map[string]string{}
	}
	return &c
}

func (e *Endpoint) String() string {
	return string(e.Type) + "[" + e.ScopeTopicKey() + "]" + e.UUID
}

func (e *Endpoint) set(k, v string) {
	switch k {
	case KeyType:
		e.Type = Type(v)
	case KeyAdminType:
		e.AdminType = v
	case KeySerializer:
		e.SerializerType = v
	case KeyScope:
		e.Scope = v
	case KeyTopic:
		e.Topic = v
	case KeyFrameworkUUID:
		e.FrameworkUUID = v
	case KeyUUID:
		e.UUID = v
	case KeyURL:
		e.URL = v
	case KeyServiceID:
		e.setID(&e.ServiceID, k, v)
	case KeyBundleID:
		e.setID(&e.BundleID, k, v)
	default:
		if e.Properties == nil {
			e.Properties = map[string]string{}
		}
		e.Properties[k] = v
	}
}

// setID 解析数字 id；无法解析或为 0 的原始值保留在 Properties 中，
// ToProperties 会原样输出
func (e *Endpoint) setID(dst *int64, k, v string) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n != 0 {
		*dst = n
		delete(e.Properties, k)
		return
	}
	*dst = 0
	if e.Properties == nil {
		e.Properties = map[string]string{}
	}
	e.Properties[k] = v
}

func putIfSet(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}

// ScopeTopicKey 组合 scope 和 topic，scope 为空时使用 DefaultScope
func ScopeTopicKey(scope, topic string) string {
	if scope == "" {
		scope = DefaultScope
	}
	return scope + ":" + topic
}

// SplitScopeTopicKey 是 ScopeTopicKey 的逆操作
func SplitScopeTopicKey(key string) (scope, topic string) {
	scope, topic, ok := strings.Cut(key, ":")
	if !ok {
		return DefaultScope, key
	}
	return scope, topic
}
