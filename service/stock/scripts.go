package stock

import "github.com/redis/go-redis/v9"

// 扣减：KEYS[1]=counter KEYS[2]=delta stream
// ARGV[1]=qty ARGV[2]=op_id ARGV[3]=sku_id ARGV[4]=nowMs
// 返回：{1,remaining} 成功；{0,current} 库存不足；{-1,0} key 不存在
var luaReserve = redis.NewScript(`
  local cur = redis.call('GET', KEYS[1])
  if not cur then
    return {-1, 0}
  end
  cur = tonumber(cur)
  local qty = tonumber(ARGV[1])
  if cur < qty then
    return {0, cur}
  end
  local left = redis.call('DECRBY', KEYS[1], qty)
  redis.call('XADD', KEYS[2], '*',
    'op_id', ARGV[2], 'sku_id', ARGV[3], 'quantity', tostring(-qty), 'created_at', ARGV[4])
  return {1, left}
`)

// 回补：参数同上；delta 总是写入，账本侧必须收到 +qty
// key 不存在时只写 delta 不建 key，下次从账本回填即为正确值
// 返回：{1,current} 计数器已回补；{2,0} 计数器缺失，仅记账
var luaRestore = redis.NewScript(`
  local qty = tonumber(ARGV[1])
  redis.call('XADD', KEYS[2], '*',
    'op_id', ARGV[2], 'sku_id', ARGV[3], 'quantity', tostring(qty), 'created_at', ARGV[4])
  if redis.call('EXISTS', KEYS[1]) == 0 then
    return {2, 0}
  end
  local cur = redis.call('INCRBY', KEYS[1], qty)
  return {1, cur}
`)

const (
	scriptApplied      = 1
	scriptInsufficient = 0
	scriptUnknownKey   = -1
	scriptLedgerOnly   = 2
)
