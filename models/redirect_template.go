package models

// RedirectTemplate 按题目的 redirect_type 存放访问方式模板，
// 由受限模板求值器渲染（见 services/template.go）。
type RedirectTemplate struct {
	Key            string `gorm:"primarykey;size:20"`
	AccessTemplate string `gorm:"type:text"`
	FrpTemplate    string `gorm:"type:text"`
}

func (RedirectTemplate) TableName() string {
	return "whale_redirect_template"
}
