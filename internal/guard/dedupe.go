package guard

import (
	"container/list"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/codeloom-ai/codeloom/internal/tools"
)

// Deduplicator remembers recent tool calls in a bounded LRU so an identical
// call can be answered from cache instead of re-executed. Keys are built from
// the tool name and an order-independent hash of the parameters, so two maps
// with the same entries in different iteration order collide as intended.
type Deduplicator struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[uint64]*list.Element
	order    *list.List // front = most recently used

	now func() time.Time
}

type dedupeEntry struct {
	key      uint64
	toolName string
	result   *tools.Result
	storedAt time.Time
}

// NewDeduplicator creates an LRU-backed deduplicator. A non-positive ttl
// disables expiry.
func NewDeduplicator(capacity int, ttl time.Duration) *Deduplicator {
	if capacity <= 0 {
		capacity = 256
	}
	return &Deduplicator{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[uint64]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// IsDuplicate reports whether an identical call was recorded recently
func (d *Deduplicator) IsDuplicate(toolName string, params map[string]interface{}) bool {
	_, ok := d.CachedResult(toolName, params)
	return ok
}

// CachedResult returns the stored result for an identical call, if any.
// Lookup refreshes recency.
func (d *Deduplicator) CachedResult(toolName string, params map[string]interface{}) (*tools.Result, bool) {
	key := CallKey(toolName, params)

	d.mu.Lock()
	defer d.mu.Unlock()

	elem, ok := d.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*dedupeEntry)
	if d.ttl > 0 && d.now().Sub(entry.storedAt) > d.ttl {
		d.order.Remove(elem)
		delete(d.entries, key)
		return nil, false
	}

	d.order.MoveToFront(elem)
	return entry.result, true
}

// RecordCall stores a call and its result, evicting the least recently used
// entry on overflow.
func (d *Deduplicator) RecordCall(toolName string, params map[string]interface{}, result *tools.Result) {
	key := CallKey(toolName, params)

	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.entries[key]; ok {
		entry := elem.Value.(*dedupeEntry)
		entry.result = result
		entry.storedAt = d.now()
		d.order.MoveToFront(elem)
		return
	}

	elem := d.order.PushFront(&dedupeEntry{
		key:      key,
		toolName: toolName,
		result:   result,
		storedAt: d.now(),
	})
	d.entries[key] = elem

	for len(d.entries) > d.capacity {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*dedupeEntry)
		d.order.Remove(oldest)
		delete(d.entries, evicted.key)
	}
}

// Len returns the number of cached calls
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// CallKey hashes a tool call into a stable 64-bit key. Map keys are sorted
// at every nesting level, so parameter order never affects the key; list
// element order does, because it is meaningful. Strings are length-framed so
// separator characters inside values cannot alias the structure.
func CallKey(toolName string, params map[string]interface{}) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(toolName)
	_, _ = h.WriteString("\x00")
	writeCanonical(h, params)
	return h.Sum64()
}

func writeCanonical(h *xxhash.Digest, value interface{}) {
	switch v := value.(type) {
	case nil:
		_, _ = h.WriteString("~")
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = h.WriteString("{")
		for _, k := range keys {
			writeFramed(h, "k", k)
			_, _ = h.WriteString("=")
			writeCanonical(h, v[k])
			_, _ = h.WriteString(";")
		}
		_, _ = h.WriteString("}")
	case []interface{}:
		_, _ = h.WriteString("[")
		for _, item := range v {
			writeCanonical(h, item)
			_, _ = h.WriteString(",")
		}
		_, _ = h.WriteString("]")
	case string:
		writeFramed(h, "s", v)
	case bool:
		_, _ = h.WriteString("b:")
		_, _ = h.WriteString(strconv.FormatBool(v))
	case float64:
		_, _ = h.WriteString("n:")
		_, _ = h.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case int:
		_, _ = h.WriteString("n:")
		_, _ = h.WriteString(strconv.FormatInt(int64(v), 10))
	case int64:
		_, _ = h.WriteString("n:")
		_, _ = h.WriteString(strconv.FormatInt(v, 10))
	default:
		writeFramed(h, "v", fmt.Sprintf("%v", v))
	}
}

// writeFramed writes a length-prefixed string, so values containing the
// encoding's own separator bytes cannot form a colliding byte stream
func writeFramed(h *xxhash.Digest, tag, s string) {
	_, _ = h.WriteString(tag)
	_, _ = h.WriteString(strconv.Itoa(len(s)))
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(s)
}
