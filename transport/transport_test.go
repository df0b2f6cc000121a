package transport

var (
	_ Transport = (*WebSocket)(nil)
	_ Transport = (*TCP)(nil)
	_ Transport = (*Redis)(nil)
)
