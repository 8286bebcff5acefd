package chat

import (
	"LiveDesk/tools/errs"
)

// Handler 一类入站事件对应一个处理器，内部只做
// 负载解码 + 调一次状态机操作，不散落业务逻辑。
type Handler interface {
	Type() EventType
	Handle(ctx *Context, f *Frame, c *Conn) error
}

// Context 传给 handler 的运行环境。
type Context struct {
	S *Server
}

type Dispatcher struct {
	handlers map[EventType]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventType]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) Dispatch(ctx *Context, f *Frame, c *Conn) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		return errs.ErrNotFound.WrapMsg("no handler for event", "type", string(f.Type))
	}
	return h.Handle(ctx, f, c)
}

func (d *Dispatcher) GetHandler(t EventType) Handler {
	return d.handlers[t]
}
