package health

import "sync/atomic"

// Readiness 桥接进程的启动就绪位，供 /readyz 使用。
// storage：数据库迁移完成、各 sink 已注册；poller：轮询协程已启动。
// 关闭时先清 poller 位，负载均衡在周期收尾期间不再转发请求。
// 逆变器是否在线不影响就绪，夜间无应答属正常。
type Readiness struct {
	storageReady atomic.Bool
	pollerReady  atomic.Bool
}

// New 初始全部未就绪
func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetStorageReady(v bool) { r.storageReady.Store(v) }
func (r *Readiness) SetPollerReady(v bool)  { r.pollerReady.Store(v) }

// Ready 存储与轮询均已启动
func (r *Readiness) Ready() bool {
	return r.storageReady.Load() && r.pollerReady.Load()
}

// Pending 尚未就绪的子系统，用于日志
func (r *Readiness) Pending() []string {
	var out []string
	if !r.storageReady.Load() {
		out = append(out, "storage")
	}
	if !r.pollerReady.Load() {
		out = append(out, "poller")
	}
	return out
}
