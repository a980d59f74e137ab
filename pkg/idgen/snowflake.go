package idgen

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 雪花算法 ID 生成器（交易主键）
// ============================================================================
//
//   0 - 41位毫秒时间戳 - 10位机器ID - 12位序列号
//
// 主键在写库前由进程分配，出站消息可以直接引用
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间: %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化默认ID生成器，只有第一次调用生效；非法 workerID 回退为 1
func Init(workerID int64) {
	once.Do(func() {
		g, err := NewSnowflake(workerID)
		if err != nil {
			g, _ = NewSnowflake(1)
		}
		defaultGenerator = g
	})
}

// NextID 生成下一个ID
func NextID() int64 {
	Init(1)
	return defaultGenerator.Generate()
}

// Generate 生成ID，同一毫秒序列号用完时自旋到下一毫秒
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// 时钟回拨：沿用上一次的时间戳，靠序列号保证递增
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return ((now - epoch) << timestampShift) | (s.workerID << workerIDShift) | s.sequence
}

// GenerateOrderReference 生成对外的订单追踪号，随收银台请求发给网关（order_nsu）
// 格式：ORD-<秒级时间戳>-<6位随机十六进制>，例如 ORD-1708234567-a1b2c3
//
// 唯一性由账本的唯一索引兜底，撞号时调用方重新生成
func GenerateOrderReference() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("ORD-%d-%s", time.Now().Unix(), suffix)
}
