package stage

// Context carries per-invocation execution details into a handler and
// collects metadata the handler wants persisted alongside the stage record.
type Context struct {
	// SubTask names the subtask being executed, or is empty when the
	// stage itself is being executed.
	SubTask string

	meta map[string]string
}

// NewContext returns a Context for a whole-stage invocation.
func NewContext() *Context {
	return &Context{}
}

// NewSubTaskContext returns a Context for a named subtask invocation.
func NewSubTaskContext(name string) *Context {
	return &Context{SubTask: name}
}

// SetMeta records a key/value pair on the stage record. Later writes for
// the same key replace earlier ones. Consumers such as review surfaces read
// the bag back from the persisted record.
func (c *Context) SetMeta(key, value string) {
	if c.meta == nil {
		c.meta = make(map[string]string)
	}
	c.meta[key] = value
}

// Meta returns the value recorded for key, if any.
func (c *Context) Meta(key string) (string, bool) {
	value, ok := c.meta[key]
	return value, ok
}

// MetaSnapshot returns a copy of the metadata bag, or nil when empty.
func (c *Context) MetaSnapshot() map[string]string {
	if len(c.meta) == 0 {
		return nil
	}
	cp := make(map[string]string, len(c.meta))
	for k, v := range c.meta {
		cp[k] = v
	}
	return cp
}
