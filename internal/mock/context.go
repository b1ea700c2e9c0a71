package mock

import (
	"context"
	"encoding/json"

	"github.com/miladsoleymani/ackmux/core"
)

// Context is a core.Context over fixed records for middleware tests.
type Context struct {
	Ctx     context.Context
	Msgs    []core.Message
	Attempt int
	AckErr  error
	Acked   bool
	store   map[string]any
}

// NewContext returns a Context delivering msgs.
func NewContext(msgs ...core.Message) *Context {
	return &Context{Ctx: context.Background(), Msgs: msgs, Attempt: 1, store: make(map[string]any)}
}

func (c *Context) Context() context.Context       { return c.Ctx }
func (c *Context) SetContext(ctx context.Context) { c.Ctx = ctx }
func (c *Context) Message() core.Message          { return c.Msgs[0] }
func (c *Context) Messages() []core.Message       { return c.Msgs }
func (c *Context) Topic() string                  { return c.Msgs[0].Topic() }
func (c *Context) Partition() int                 { return c.Msgs[0].Partition() }
func (c *Context) Offset() int64                  { return c.Msgs[0].Offset() }
func (c *Context) Key() []byte                    { return c.Msgs[0].Key() }
func (c *Context) Value() []byte                  { return c.Msgs[0].Value() }
func (c *Context) Header(key string) string       { return c.Msgs[0].Headers()[key] }
func (c *Context) Headers() map[string]string     { return c.Msgs[0].Headers() }
func (c *Context) DeliveryAttempt() int           { return c.Attempt }
func (c *Context) Bind(v any) error               { return json.Unmarshal(c.Msgs[0].Value(), v) }
func (c *Context) Set(key string, val any)        { c.store[key] = val }

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.store[key]
	return v, ok
}

func (c *Context) Ack() error {
	c.Acked = true
	return c.AckErr
}
