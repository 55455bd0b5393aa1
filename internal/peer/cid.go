package peer

import "sync"

// cidMap assigns small, stable connection ids to peer IPs, adapted from the
// teacher's cid.Map (cid/cid.go). The original tracked numeric node ids for
// a many-peer version-vector model; here it only serves to give metrics and
// log lines a short label instead of repeating IP strings.
type cidMap struct {
	mut    sync.Mutex
	toID   map[string]uint
	toName []string
}

func newCIDMap() *cidMap {
	return &cidMap{toID: make(map[string]uint)}
}

func (m *cidMap) get(name string) uint {
	m.mut.Lock()
	defer m.mut.Unlock()

	if id, ok := m.toID[name]; ok {
		return id
	}
	id := uint(len(m.toName))
	m.toName = append(m.toName, name)
	m.toID[name] = id
	return id
}

func (m *cidMap) name(id uint) string {
	m.mut.Lock()
	defer m.mut.Unlock()
	if int(id) >= len(m.toName) {
		return ""
	}
	return m.toName[id]
}
