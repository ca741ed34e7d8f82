package utils

import (
	"crypto/rand"
	mrand "math/rand"

	"github.com/google/uuid"
)

const lowerCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomLower 生成指定长度的小写字母数字随机串。串会进到 flag 里，
// 随机源必须是 crypto/rand，并发调用也安全。
func RandomLower(length int) string {
	// 252 = 7 * 36，丢弃 252 以上的字节避免取模偏差
	const limit = 252
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, lowerCharset[int(b)%len(lowerCharset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out)
}

// NewSuffix 生成实例的全局唯一后缀，会嵌入引擎对象名
func NewSuffix() string {
	return uuid.NewString()
}

// PickRandom 从候选列表中均匀随机取一个
func PickRandom(candidates []string) string {
	return candidates[mrand.Intn(len(candidates))]
}
