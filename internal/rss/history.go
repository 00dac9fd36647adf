package rss

// DefaultHistoryCapacity 每个订阅源默认记住的条目数量。
const DefaultHistoryCapacity = 200

// History 记录某个订阅源已经展示过的条目 ID，容量有限，按先进先出淘汰。
// History 本身不加锁，由所属的 Feed 负责互斥。
type History struct {
	capacity int
	ids      []string
	index    map[string]struct{}
}

// NewHistory 创建指定容量的历史记录。负数容量按 0 处理。
func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{
		capacity: capacity,
		ids:      make([]string, 0, min(capacity, DefaultHistoryCapacity)),
		index:    make(map[string]struct{}),
	}
}

// Contains 判断条目是否已经展示过。
func (h *History) Contains(id string) bool {
	_, ok := h.index[id]
	return ok
}

// Record 记录一个条目 ID。已存在时不做任何事；超出容量时淘汰最旧的一条。
// 容量为 0 时刚写入的 ID 会被立即淘汰。
func (h *History) Record(id string) {
	if h.Contains(id) {
		return
	}
	h.ids = append(h.ids, id)
	h.index[id] = struct{}{}

	for len(h.ids) > h.capacity {
		oldest := h.ids[0]
		h.ids[0] = ""
		h.ids = h.ids[1:]
		delete(h.index, oldest)
	}
}

// Len 返回当前记录数。
func (h *History) Len() int { return len(h.ids) }

// Capacity 返回容量上限。
func (h *History) Capacity() int { return h.capacity }

// IDs 按写入顺序（最旧在前）返回记录的副本。
func (h *History) IDs() []string {
	out := make([]string, len(h.ids))
	copy(out, h.ids)
	return out
}
