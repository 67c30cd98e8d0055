package ids

import (
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	mu   sync.RWMutex
	node *snowflake.Node
	once sync.Once
)

// initDefault 初始化默认节点（nodeID=1），纪元 2020-01-01
func initDefault() {
	once.Do(func() {
		snowflake.Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
		n, err := snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
		node = n
	})
}

// Generate 生成一个新的雪花ID；同一节点内单调递增
func Generate() int64 {
	initDefault()
	mu.RLock()
	defer mu.RUnlock()
	return node.Generate().Int64()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// SetNodeID 设置 nodeID（0~1023），在 main() 初始化时调用
func SetNodeID(nodeID int64) error {
	initDefault()
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// NewOpID 库存变更的幂等键
func NewOpID() string {
	return uuid.NewString()
}
