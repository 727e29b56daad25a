package handlers

import "strings"

// 历史客户端发过来的状态值大小写、连字符五花八门。
// 别名归一只发生在这层边界适配器，状态机内部只见规范值。

var txStatusAliases = map[string]string{
	"open":       "open",
	"interested": "interested",
	"inprogress": "in_progress",
	"completed":  "completed",
	"complete":   "completed",
	"cancelled":  "cancelled",
	"canceled":   "cancelled",
}

// normalizeTxStatus 归一交易状态别名，未知值原样返回交给状态机拒绝
func normalizeTxStatus(s string) string {
	key := strings.ToLower(s)
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, " ", "")
	if canonical, ok := txStatusAliases[key]; ok {
		return canonical
	}
	return s
}

var alertStatusAliases = map[string]string{
	"open":     "open",
	"resolved": "resolved",
	"closed":   "closed",
	"close":    "closed",
}

func normalizeAlertStatus(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	if canonical, ok := alertStatusAliases[key]; ok {
		return canonical
	}
	return s
}
