package services

import (
	"errors"
	"strings"

	"github.com/ScribblerCoder/ctfd-whale/utils"
)

// ErrNoSuitableNode 表示没有可放置该镜像的节点，需要管理员先给节点打标签。
var ErrNoSuitableNode = errors.New(
	"no suitable node: label your swarm nodes first, e.g. " +
		`docker node update --label-add "name=linux-1" $(docker node ls -q)`)

// ChooseNode 按镜像 tag 的操作系统约束从候选节点中随机选一个。
// 以 windows 开头的节点标签视为 Windows 节点，其余视为 Linux 节点；
// 镜像 tag 以 windows 开头时只落 Windows 节点。没有 tag 的镜像引用视为
// 非法输入，与目标节点集为空一样返回 ErrNoSuitableNode。
func ChooseNode(image string, nodes []string) (string, error) {
	var winNodes, linuxNodes []string
	for _, node := range nodes {
		node = strings.TrimSpace(node)
		if node == "" {
			continue
		}
		if strings.HasPrefix(node, "windows") {
			winNodes = append(winNodes, node)
		} else {
			linuxNodes = append(linuxNodes, node)
		}
	}

	parts := strings.SplitN(image, ":", 2)
	if len(parts) < 2 {
		return "", ErrNoSuitableNode
	}

	candidates := linuxNodes
	if strings.HasPrefix(parts[1], "windows") {
		candidates = winNodes
	}
	if len(candidates) == 0 {
		return "", ErrNoSuitableNode
	}
	return utils.PickRandom(candidates), nil
}
