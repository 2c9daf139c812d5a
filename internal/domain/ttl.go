package domain

import "time"

// ExpiresAt 返回以 stamp 为起点、保留 retention 后的过期时刻。
func ExpiresAt(stamp time.Time, retention time.Duration) time.Time {
	return stamp.Add(retention)
}

// Cutoff 返回当前时刻对应的淘汰分界线，时间戳不晚于它的条目都视为过期。
func Cutoff(now time.Time, retention time.Duration) time.Time {
	return now.Add(-retention)
}

// IsExpired 判断 stamp 在 now 时刻是否已经超出保留窗口。
// 与 Cutoff 一致：stamp <= now-retention 即过期。
func IsExpired(stamp, now time.Time, retention time.Duration) bool {
	return !stamp.After(Cutoff(now, retention))
}
