package notification

import "context"

// DefaultBatchSize 推送通道单次调用的 token 上限
const DefaultBatchSize = 500

// PushMessage 一次推送的标题、内容与附加数据
type PushMessage struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Category string                 `json:"category,omitempty"`
	Urgency  string                 `json:"urgency,omitempty"`
}

// PushTicket 通道对单个 token 的回执
type PushTicket struct {
	Token string
	OK    bool
	// DeadToken 通道明确标记该 token 永久失效（设备已注销），
	// 区别于瞬时失败，只有这种情况才允许剪除 token
	DeadToken bool
	Err       string
}

// PushClient 推送通道接口
// 实现方收到一批 token 后必须逐 token 返回回执
type PushClient interface {
	SendBatch(ctx context.Context, tokens []string, msg PushMessage) ([]PushTicket, error)
}

// ChunkTokens 按通道上限切分 token 列表
func ChunkTokens(tokens []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var chunks [][]string
	for len(tokens) > size {
		chunks = append(chunks, tokens[:size])
		tokens = tokens[size:]
	}
	if len(tokens) > 0 {
		chunks = append(chunks, tokens)
	}
	return chunks
}
