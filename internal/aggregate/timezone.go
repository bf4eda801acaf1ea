package aggregate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // IANA zones without relying on the host's zoneinfo
)

// ErrUnknownTimezone is returned for names that are neither IANA zones nor
// fixed UTC offsets.
var ErrUnknownTimezone = errors.New("unknown timezone")

// offsetRe matches "UTC+2", "GMT-05:30", "utc+0530", "+02:00" and "-3".
var offsetRe = regexp.MustCompile(`^(?i)(?:utc|gmt)?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)

const maxOffset = 14 * time.Hour

// loadLocation resolves an IANA name or a fixed offset.
func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch strings.ToUpper(name) {
	case "UTC", "GMT", "Z":
		return time.UTC, nil
	}
	if m := offsetRe.FindStringSubmatch(name); m != nil {
		return fixedOffset(m[1], m[2], m[3], name)
	}
	if name == "" || strings.EqualFold(name, "local") {
		// Local would make output depend on the host.
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	return loc, nil
}

func fixedOffset(sign, hours, minutes, name string) (*time.Location, error) {
	h, _ := strconv.Atoi(hours)
	m := 0
	if minutes != "" {
		m, _ = strconv.Atoi(minutes)
	}
	if m >= 60 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	off := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	if off > maxOffset {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	if sign == "-" {
		off = -off
	}
	if off == 0 {
		return time.UTC, nil
	}
	label := fmt.Sprintf("UTC%s%02d:%02d", sign, h, m)
	return time.FixedZone(label, int(off/time.Second)), nil
}

// zoneCache is a thread-safe LRU of resolved locations.
type zoneCache struct {
	maxEntries int
	load       func(string) (*time.Location, error)

	mu      sync.Mutex
	entries map[string]*zoneEntry
	head    *zoneEntry // most recently used
	tail    *zoneEntry // least recently used
}

type zoneEntry struct {
	name       string
	loc        *time.Location
	prev, next *zoneEntry
}

func newZoneCache(maxEntries int, load func(string) (*time.Location, error)) *zoneCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &zoneCache{
		maxEntries: maxEntries,
		load:       load,
		entries:    make(map[string]*zoneEntry),
	}
}

// resolve returns the cached location or loads it. Failed loads are not
// cached.
func (c *zoneCache) resolve(name string) (*time.Location, error) {
	if loc, ok := c.get(name); ok {
		return loc, nil
	}
	loc, err := c.load(name)
	if err != nil {
		return nil, err
	}
	c.put(name, loc)
	return loc, nil
}

func (c *zoneCache) get(name string) (*time.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	c.touch(e)
	return e.loc, true
}

func (c *zoneCache) put(name string, loc *time.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[name]; ok {
		e.loc = loc
		c.touch(e)
		return
	}
	e := &zoneEntry{name: name, loc: loc}
	c.entries[name] = e
	c.pushFront(e)
	if len(c.entries) > c.maxEntries {
		oldest := c.tail
		c.unlink(oldest)
		delete(c.entries, oldest.name)
	}
}

func (c *zoneCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *zoneCache) touch(e *zoneEntry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *zoneCache) pushFront(e *zoneEntry) {
	e.prev, e.next = nil, c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *zoneCache) unlink(e *zoneEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
