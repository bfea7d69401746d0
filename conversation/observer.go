package conversation

import "time"

// Observer 接收 Manager 的运行事件，用于指标采集.
type Observer interface {
	// ObserveChat 在每次 Chat 结束时调用.
	ObserveChat(policy Policy, outcome Outcome, duration time.Duration)
	// ObservePrune 在裁剪删除了至少一个轮次后调用.
	ObservePrune(removed, remainingTurns int)
	// ObserveCacheClear 在资源耗尽触发缓存清理后调用.
	ObserveCacheClear()
}

type nopObserver struct{}

func (nopObserver) ObserveChat(Policy, Outcome, time.Duration) {}
func (nopObserver) ObservePrune(int, int)                      {}
func (nopObserver) ObserveCacheClear()                         {}
