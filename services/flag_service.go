package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ScribblerCoder/ctfd-whale/models"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

// wrapperPattern 从渲染后的模板里拆出包装文本：开头字面量+{、花括号内容、}+结尾字面量。
var wrapperPattern = regexp.MustCompile(`^([^{]*\{)([^}]*)(\}.*)$`)

// GenerateFlag 按题目的 flag 模式为实例生成 flag。题目记录缺失时退回 dynamic。
func GenerateFlag(inst *models.Instance, challenge *models.Challenge) (string, error) {
	return generateFlag(GetSetting("template_chall_flag"), inst, challenge)
}

func generateFlag(tmplText string, inst *models.Instance, challenge *models.Challenge) (string, error) {
	mode := models.FlagModeDynamic
	if challenge != nil {
		mode = challenge.FlagMode
	}

	switch mode {
	case models.FlagModeHalfDynamic:
		return generateHalfDynamicFlag(tmplText, inst, challenge)
	case models.FlagModeStatic:
		// 静态题由人工配置的 flag 判分，这里仍生成一个合法占位 flag，
		// 保证实例的 flag 字段非空。
		return RenderTemplate(tmplText, inst)
	default:
		return RenderTemplate(tmplText, inst)
	}
}

// generateHalfDynamicFlag 生成“固定前缀 + 8 位随机小写串”的 flag。
// 先渲染一次模板取得包装文本，再把花括号内容替换为 prefix_xxxxxxxx。
// 渲染结果含多个花括号区域时拒绝生成（包装提取无法保证唯一解）。
func generateHalfDynamicFlag(tmplText string, inst *models.Instance, challenge *models.Challenge) (string, error) {
	prefix := challenge.FlagStaticPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	payload := prefix + utils.RandomLower(8)

	rendered, err := RenderTemplate(tmplText, inst)
	if err != nil {
		return "", err
	}

	if strings.Count(rendered, "{") > 1 || strings.Count(rendered, "}") > 1 {
		return "", fmt.Errorf("flag template renders more than one brace region: %q", rendered)
	}

	m := wrapperPattern.FindStringSubmatch(rendered)
	if m == nil {
		// 模板没有花括号包装时直接拼接
		return rendered + payload, nil
	}
	return m[1] + payload + m[3], nil
}
