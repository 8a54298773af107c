package discovery

import (
	"sort"
	"time"
)

// AnnouncedStatus 已发布端点的状态
type AnnouncedStatus struct {
	UUID         string    `json:"uuid"`
	Key          string    `json:"key"`
	Persisted    bool      `json:"persisted"`
	CreateTime   time.Time `json:"create_time"`
	SetCount     int       `json:"set_count"`
	RefreshCount int       `json:"refresh_count"`
	ErrorCount   int       `json:"error_count"`
}

// DiscoveredStatus 已发现的远端端点
type DiscoveredStatus struct {
	UUID          string    `json:"uuid"`
	FrameworkUUID string    `json:"framework_uuid"`
	Type          string    `json:"type"`
	Scope         string    `json:"scope"`
	Topic         string    `json:"topic"`
	DiscoveredAt  time.Time `json:"discovered_at"`
}

// Status Store 的状态快照
type Status struct {
	FrameworkUUID string             `json:"framework_uuid"`
	RootPath      string             `json:"root_path"`
	TTL           time.Duration      `json:"ttl"`
	Cursor        int64              `json:"cursor"`
	Bootstrapped  bool               `json:"bootstrapped"`
	Announced     []AnnouncedStatus  `json:"announced"`
	Discovered    []DiscoveredStatus `json:"discovered"`
	Interests     []string           `json:"interests"`
}

// Status 返回当前状态快照，各列表按 UUID 排序
func (s *Store) Status() Status {
	st := Status{
		FrameworkUUID: s.frameworkUUID,
		RootPath:      s.cfg.RootPath,
		TTL:           s.cfg.TTL,
		Cursor:        s.cursor.Load(),
		Bootstrapped:  s.bootstrapped.Load(),
	}

	s.announcedMu.Lock()
	for _, e := range s.announced {
		st.Announced = append(st.Announced, AnnouncedStatus{
			UUID:         e.ep.UUID,
			Key:          e.key,
			Persisted:    e.isPersisted,
			CreateTime:   e.createTime,
			SetCount:     e.setCount,
			RefreshCount: e.refreshCount,
			ErrorCount:   e.errorCount,
		})
	}
	s.announcedMu.Unlock()

	s.discoveredMu.Lock()
	for _, d := range s.discovered {
		st.Discovered = append(st.Discovered, DiscoveredStatus{
			UUID:          d.ep.UUID,
			FrameworkUUID: d.ep.FrameworkUUID,
			Type:          string(d.ep.Type),
			Scope:         d.ep.Scope,
			Topic:         d.ep.Topic,
			DiscoveredAt:  d.discoveredAt,
		})
	}
	s.discoveredMu.Unlock()

	s.interestMu.Lock()
	for k := range s.interest {
		st.Interests = append(st.Interests, k)
	}
	s.interestMu.Unlock()

	sort.Slice(st.Announced, func(i, j int) bool { return st.Announced[i].UUID < st.Announced[j].UUID })
	sort.Slice(st.Discovered, func(i, j int) bool { return st.Discovered[i].UUID < st.Discovered[j].UUID })
	sort.Strings(st.Interests)
	return st
}

// IsPersisted 返回端点是否已成功写入目录（最近一次写入或续约成功）
func (s *Store) IsPersisted(uuid string) bool {
	s.announcedMu.Lock()
	defer s.announcedMu.Unlock()
	e, ok := s.announced[uuid]
	return ok && e.isPersisted
}
