package session

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/llamachat/conversation"
	"github.com/BaSui01/llamachat/types"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrVersionConflict 表示存储中已有相同或更新版本的快照.
	ErrVersionConflict = errors.New("version conflict")
)

// Snapshot 是会话的持久化形式.
type Snapshot struct {
	ID        string              `json:"id"`
	Config    conversation.Config `json:"config"`
	Messages  []types.Message     `json:"messages"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Store 会话快照存储接口
type Store interface {
	// Save 保存快照. snap.Version 必须大于已存储的版本，否则返回 ErrVersionConflict。
	Save(ctx context.Context, snap *Snapshot) error
	// Load 读取快照，不存在时返回 ErrSessionNotFound.
	Load(ctx context.Context, id string) (*Snapshot, error)
	// Delete 删除快照，不存在时不报错.
	Delete(ctx context.Context, id string) error
}

func cloneSnapshot(snap *Snapshot) *Snapshot {
	out := *snap
	out.Messages = types.CloneMessages(snap.Messages)
	if snap.Config.MaxGenLen != nil {
		n := *snap.Config.MaxGenLen
		out.Config.MaxGenLen = &n
	}
	return &out
}
