package chat

import (
	"hash/fnv"
	"sync"

	"LiveDesk/tools/safe"
)

// Fanout 广播工作池。按组名哈希固定到同一个 worker，
// 保证同一会话的两次广播不会被不同 worker 乱序投递（消息保序依赖这一点）。

type fanoutJob struct {
	conns   []*Conn
	exclude string // 可选：排除的 snowID（typing 不回显给发送者）
	payload []byte
}

type Fanout struct {
	queues   []chan fanoutJob
	stopOnce sync.Once
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{queues: make([]chan fanoutJob, workers)}
	for i := range f.queues {
		ch := make(chan fanoutJob, queue)
		f.queues[i] = ch
		jobs := ch
		safe.Go("fanout-worker", func() {
			for job := range jobs {
				for _, c := range job.conns {
					if job.exclude != "" && c.SnowID == job.exclude {
						continue
					}
					// 慢客户端或已摘除的连接：跳过，交给写泵/清扫断开
					_ = c.Enqueue(job.payload)
				}
			}
		})
	}
	return f
}

// Stop 关闭全部工作队列；之后不得再广播。
func (f *Fanout) Stop() {
	f.stopOnce.Do(func() {
		for _, ch := range f.queues {
			close(ch)
		}
	})
}

// Broadcast 向组内连接投递；key 用组名保证同组串行。
func (f *Fanout) Broadcast(key string, conns []*Conn, payload []byte) {
	f.BroadcastExcept(key, conns, "", payload)
}

func (f *Fanout) BroadcastExcept(key string, conns []*Conn, exclude string, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % len(f.queues)
	f.queues[idx] <- fanoutJob{conns: conns, exclude: exclude, payload: payload}
}
