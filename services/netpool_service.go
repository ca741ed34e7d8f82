package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/ScribblerCoder/ctfd-whale/database"
)

// ErrPoolExhausted 表示没有可分配的私有网段了。
var ErrPoolExhausted = errors.New("no network range available, too many grouped instances running")

const netPoolKey = "whale:netpool:available"

// NetPool 管理编组拓扑的私有网段。可用网段存在 redis 集合里，
// 多个请求进程共享同一个池：SPop 取出即占用，SAdd 归还天然幂等。
type NetPool struct {
	rdb *redis.Client
	key string
}

var Pool *NetPool

// InitNetPool 按 docker_subnet / docker_subnet_new_prefix 配置枚举子网段，
// 在池为空时灌入全部可用网段。
func InitNetPool() error {
	Pool = &NetPool{rdb: database.RDB, key: netPoolKey}

	ctx := context.Background()
	count, err := Pool.rdb.SCard(ctx, Pool.key).Result()
	if err != nil {
		return fmt.Errorf("netpool scard: %w", err)
	}
	if count > 0 {
		return nil
	}

	ranges, err := enumerateSubnets(GetSetting("docker_subnet"), GetSettingInt("docker_subnet_new_prefix"))
	if err != nil {
		return fmt.Errorf("netpool init: %w", err)
	}
	members := make([]interface{}, len(ranges))
	for i, r := range ranges {
		members[i] = r
	}
	return Pool.rdb.SAdd(ctx, Pool.key, members...).Err()
}

// Acquire 取出一个可用网段并标记占用。
func (p *NetPool) Acquire(ctx context.Context) (string, error) {
	prefix, err := p.rdb.SPop(ctx, p.key).Result()
	if err == redis.Nil {
		return "", ErrPoolExhausted
	}
	if err != nil {
		return "", fmt.Errorf("netpool acquire: %w", err)
	}
	return prefix, nil
}

// Release 归还网段。重复归还同一网段是无害的空操作。
func (p *NetPool) Release(ctx context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	return p.rdb.SAdd(ctx, p.key, prefix).Err()
}

// enumerateSubnets 把基础网段按新前缀长度切分成全部子网段，
// 如 174.1.0.0/16 + 24 -> 174.1.0.0/24 ... 174.1.255.0/24。
func enumerateSubnets(baseCIDR string, newPrefix int) ([]string, error) {
	_, ipnet, err := net.ParseCIDR(baseCIDR)
	if err != nil {
		return nil, fmt.Errorf("parse subnet %q: %w", baseCIDR, err)
	}
	base := ipnet.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("subnet %q is not IPv4", baseCIDR)
	}
	ones, _ := ipnet.Mask.Size()
	if newPrefix < ones || newPrefix > 30 {
		return nil, fmt.Errorf("new prefix /%d out of range for %s", newPrefix, baseCIDR)
	}

	count := 1 << (newPrefix - ones)
	step := uint32(1) << (32 - newPrefix)
	start := binary.BigEndian.Uint32(base)

	ranges := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, start+uint32(i)*step)
		ranges = append(ranges, fmt.Sprintf("%s/%d", ip.String(), newPrefix))
	}
	return ranges, nil
}
