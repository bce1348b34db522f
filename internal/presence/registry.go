// Package presence 维护用户到连接的在线映射，并在用户上下线时通知其在线好友。
package presence

import "sync"

// Registry 是 userID -> connID 的内存映射，同一用户最后一次连接生效。
// 所有操作在读写锁下原子完成。
type Registry struct {
	mu    sync.RWMutex
	conns map[uint]string
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint]string)}
}

// Register 记录用户的当前连接，覆盖之前的连接。
func (r *Registry) Register(userID uint, connID string) {
	r.mu.Lock()
	r.conns[userID] = connID
	r.mu.Unlock()
}

func (r *Registry) Lookup(userID uint) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

func (r *Registry) IsOnline(userID uint) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// UnregisterByConn 删除指向 connID 的映射并返回对应用户。
// 连接已被同一用户的新连接取代时返回 false。需要遍历整张表，O(n)。
func (r *Registry) UnregisterByConn(connID string) (uint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, c := range r.conns {
		if c == connID {
			delete(r.conns, uid)
			return uid, true
		}
	}
	return 0, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
