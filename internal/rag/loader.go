package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/andresfranco/portfolio-suite-sub002/internal/models"
	"gorm.io/gorm"
)

// SourceField 源记录中参与索引的一个字段。Text与URI二选一：
// URI指向需要提取正文的附件。
type SourceField struct {
	Name     string
	Text     string
	URI      string
	MimeType string
}

// SourceDoc 加载后的源记录
type SourceDoc struct {
	TenantID   string
	Visibility string
	Lang       string
	Fields     []SourceField
}

// Loader 按表加载源记录。Load对不存在的记录返回ErrRecordNotFound。
type Loader interface {
	Load(ctx context.Context, db *gorm.DB, id string) (*SourceDoc, error)
	ListIDs(ctx context.Context, db *gorm.DB, limit, offset int) ([]string, error)
}

// LoaderRegistry 表名到加载器的注册表
type LoaderRegistry struct {
	loaders map[string]Loader
}

// NewLoaderRegistry 创建带内置业务表的注册表
func NewLoaderRegistry() *LoaderRegistry {
	r := &LoaderRegistry{loaders: make(map[string]Loader)}
	r.Register("portfolios", &portfolioLoader{})
	r.Register("projects", &projectLoader{})
	r.Register("experiences", &experienceLoader{})
	r.Register("skills", &skillLoader{})
	return r
}

func (r *LoaderRegistry) Register(table string, loader Loader) {
	r.loaders[table] = loader
}

// Get 获取指定表的加载器
func (r *LoaderRegistry) Get(table string) (Loader, error) {
	loader, ok := r.loaders[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return loader, nil
}

// Tables 返回已注册的表名（有序）
func (r *LoaderRegistry) Tables() []string {
	tables := make([]string, 0, len(r.loaders))
	for table := range r.loaders {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// Validate 校验配置表都已注册，启动时调用
func (r *LoaderRegistry) Validate(tables []string) error {
	for _, table := range tables {
		if _, ok := r.loaders[table]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTable, table)
		}
	}
	return nil
}

type portfolioLoader struct{}

func (l *portfolioLoader) Load(ctx context.Context, db *gorm.DB, id string) (*SourceDoc, error) {
	var p models.Portfolio
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load portfolio %s: %w", id, err)
	}
	return &SourceDoc{
		TenantID:   p.TenantID,
		Visibility: p.Visibility,
		Lang:       p.Language,
		Fields: []SourceField{
			{Name: "name", Text: p.Name},
			{Name: "description", Text: p.Description},
			{Name: "about", Text: p.About},
		},
	}, nil
}

func (l *portfolioLoader) ListIDs(ctx context.Context, db *gorm.DB, limit, offset int) ([]string, error) {
	return listIDs(ctx, db, &models.Portfolio{}, limit, offset)
}

type projectLoader struct{}

func (l *projectLoader) Load(ctx context.Context, db *gorm.DB, id string) (*SourceDoc, error) {
	var p models.Project
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	return &SourceDoc{
		TenantID:   p.TenantID,
		Visibility: p.Visibility,
		Lang:       p.Language,
		Fields: []SourceField{
			{Name: "name", Text: p.Name},
			{Name: "description", Text: p.Description},
			{Name: "attachment", URI: p.AttachmentURI, MimeType: p.MimeType},
		},
	}, nil
}

func (l *projectLoader) ListIDs(ctx context.Context, db *gorm.DB, limit, offset int) ([]string, error) {
	return listIDs(ctx, db, &models.Project{}, limit, offset)
}

type experienceLoader struct{}

func (l *experienceLoader) Load(ctx context.Context, db *gorm.DB, id string) (*SourceDoc, error) {
	var e models.Experience
	if err := db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load experience %s: %w", id, err)
	}
	return &SourceDoc{
		TenantID:   e.TenantID,
		Visibility: e.Visibility,
		Lang:       e.Language,
		Fields: []SourceField{
			{Name: "company", Text: e.Company},
			{Name: "role", Text: e.Role},
			{Name: "description", Text: e.Description},
		},
	}, nil
}

func (l *experienceLoader) ListIDs(ctx context.Context, db *gorm.DB, limit, offset int) ([]string, error) {
	return listIDs(ctx, db, &models.Experience{}, limit, offset)
}

type skillLoader struct{}

func (l *skillLoader) Load(ctx context.Context, db *gorm.DB, id string) (*SourceDoc, error) {
	var s models.Skill
	if err := db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load skill %s: %w", id, err)
	}
	return &SourceDoc{
		TenantID:   s.TenantID,
		Visibility: s.Visibility,
		Fields: []SourceField{
			{Name: "name", Text: s.Name},
			{Name: "category", Text: s.Category},
			{Name: "description", Text: s.Description},
		},
	}, nil
}

func (l *skillLoader) ListIDs(ctx context.Context, db *gorm.DB, limit, offset int) ([]string, error) {
	return listIDs(ctx, db, &models.Skill{}, limit, offset)
}

func listIDs(ctx context.Context, db *gorm.DB, model interface{}, limit, offset int) ([]string, error) {
	var ids []uint
	query := db.WithContext(ctx).Model(model).Order("id").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list source ids: %w", err)
	}

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatUint(uint64(id), 10)
	}
	return out, nil
}
