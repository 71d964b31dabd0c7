package models

// 只读的业务域模型。这些表由管理后台维护，本服务只做索引读取。

// Portfolio 作品集
type Portfolio struct {
	ID          uint   `gorm:"primaryKey;column:id" json:"id"`
	Name        string `gorm:"column:name" json:"name"`
	Description string `gorm:"column:description" json:"description"`
	About       string `gorm:"column:about" json:"about"`
	Language    string `gorm:"column:language" json:"language"`
	Visibility  string `gorm:"column:visibility" json:"visibility"`
	TenantID    string `gorm:"column:tenant_id" json:"tenant_id"`
}

func (Portfolio) TableName() string {
	return "portfolios"
}

// Project 项目经历，附件正文通过attachment_uri懒提取
type Project struct {
	ID            uint   `gorm:"primaryKey;column:id" json:"id"`
	PortfolioID   uint   `gorm:"column:portfolio_id" json:"portfolio_id"`
	Name          string `gorm:"column:name" json:"name"`
	Description   string `gorm:"column:description" json:"description"`
	RepositoryURL string `gorm:"column:repository_url" json:"repository_url"`
	AttachmentURI string `gorm:"column:attachment_uri" json:"attachment_uri"`
	MimeType      string `gorm:"column:mime_type" json:"mime_type"`
	Language      string `gorm:"column:language" json:"language"`
	Visibility    string `gorm:"column:visibility" json:"visibility"`
	TenantID      string `gorm:"column:tenant_id" json:"tenant_id"`
}

func (Project) TableName() string {
	return "projects"
}

// Experience 工作经历
type Experience struct {
	ID          uint   `gorm:"primaryKey;column:id" json:"id"`
	PortfolioID uint   `gorm:"column:portfolio_id" json:"portfolio_id"`
	Company     string `gorm:"column:company" json:"company"`
	Role        string `gorm:"column:role" json:"role"`
	Description string `gorm:"column:description" json:"description"`
	Language    string `gorm:"column:language" json:"language"`
	Visibility  string `gorm:"column:visibility" json:"visibility"`
	TenantID    string `gorm:"column:tenant_id" json:"tenant_id"`
}

func (Experience) TableName() string {
	return "experiences"
}

// Skill 技能
type Skill struct {
	ID          uint   `gorm:"primaryKey;column:id" json:"id"`
	Name        string `gorm:"column:name" json:"name"`
	Category    string `gorm:"column:category" json:"category"`
	Description string `gorm:"column:description" json:"description"`
	Visibility  string `gorm:"column:visibility" json:"visibility"`
	TenantID    string `gorm:"column:tenant_id" json:"tenant_id"`
}

func (Skill) TableName() string {
	return "skills"
}
