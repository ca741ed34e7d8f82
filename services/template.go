package services

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

// templateContext 是管理员配置模板可见的全部数据。flag 模板和访问方式
// 模板共用同一个受限求值器：只暴露 Container 和下面 FuncMap 里的函数，
// 不提供任何通用求值能力。
type templateContext struct {
	Container *models.Instance
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"uuid": uuid.NewString,
		"randstr": func(n int) string {
			return utils.RandomLower(n)
		},
		"config": GetSetting,
	}
}

// RenderTemplate 用受限上下文渲染管理员配置的模板。
func RenderTemplate(text string, inst *models.Instance) (string, error) {
	tmpl, err := template.New("whale").Funcs(templateFuncs()).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, templateContext{Container: inst}); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return sb.String(), nil
}

// RenderAccess 渲染实例的用户访问方式（按题目的 redirect_type 取模板）。
func RenderAccess(inst *models.Instance, challenge *models.Challenge) (string, error) {
	var rt models.RedirectTemplate
	if err := database.DB.First(&rt, "`key` = ?", challenge.RedirectType).Error; err != nil {
		return "", fmt.Errorf("redirect template %q: %w", challenge.RedirectType, err)
	}
	return RenderTemplate(rt.AccessTemplate, inst)
}
