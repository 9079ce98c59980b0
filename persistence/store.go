// Package persistence 提供基于 GORM 的交互记录与医疗机构存储。
// 交互落库是尽力而为：失败只记日志，不影响应答路径。
package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/swasthya-ai/sahayak/config"
	"github.com/swasthya-ai/sahayak/types"
)

// Interaction 交互记录表
type Interaction struct {
	ID          uint      `gorm:"primaryKey"`
	QueryID     string    `gorm:"size:64;index"`
	SessionID   string    `gorm:"size:64;index"`
	Identifier  string    `gorm:"size:64;index"`
	QueryText   string    `gorm:"type:text"`
	AnswerText  string    `gorm:"type:text"`
	Language    string    `gorm:"size:8"`
	Channel     string    `gorm:"size:16"`
	AgentPath   bool
	Emergency   bool
	ReasonCodes string    `gorm:"size:256"` // 逗号分隔的路由理由码
	Elapsed     float64
	CreatedAt   time.Time `gorm:"index"`
}

// Facility 医疗机构表，用于紧急指引
type Facility struct {
	ID       uint   `gorm:"primaryKey"`
	Name     string `gorm:"size:128"`
	Kind     string `gorm:"size:32"` // phc / chc / district_hospital
	District string `gorm:"size:64;index"`
	Address  string `gorm:"size:256"`
	Phone    string `gorm:"size:32"`
}

// Store 持久化存储
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 按配置打开数据库并自动迁移。
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "sahayak.db"
		}
		dialector = sqlite.Open(path)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&Interaction{}, &Facility{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &Store{db: db, logger: logger.Named("persistence")}, nil
}

// NewStoreWithDB 基于已有连接创建存储（测试用）。
func NewStoreWithDB(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&Interaction{}, &Facility{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &Store{db: db, logger: logger.Named("persistence")}, nil
}

// LogInteraction 写入一条交互记录。
func (s *Store) LogInteraction(ctx context.Context, rec types.InteractionRecord) error {
	row := Interaction{
		QueryID:     rec.QueryID,
		SessionID:   rec.SessionID,
		Identifier:  rec.Identifier,
		QueryText:   rec.QueryText,
		AnswerText:  rec.AnswerText,
		Language:    string(rec.Language),
		Channel:     string(rec.Channel),
		AgentPath:   rec.AgentPath,
		Emergency:   rec.Emergency,
		ReasonCodes: strings.Join(rec.ReasonCodes, ","),
		Elapsed:     rec.Elapsed,
		CreatedAt:   rec.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "failed to log interaction").WithCause(err)
	}
	return nil
}

// RecentHistory 返回会话最近的问题文本，按时间正序。
func (s *Store) RecentHistory(ctx context.Context, sessionID string, max int) ([]string, error) {
	if sessionID == "" || max <= 0 {
		return nil, nil
	}
	var rows []Interaction
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(max).
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to load history").WithCause(err)
	}
	// 倒序查询后翻转回时间正序
	history := make([]string, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		history = append(history, rows[i].QueryText)
	}
	return history, nil
}

// NearestFacilities 按地区返回医疗机构，用于紧急回答中的就医指引。
func (s *Store) NearestFacilities(ctx context.Context, district string, limit int) ([]Facility, error) {
	if limit <= 0 {
		limit = 3
	}
	var rows []Facility
	q := s.db.WithContext(ctx)
	if district != "" {
		q = q.Where("district = ?", district)
	}
	if err := q.Limit(limit).Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to load facilities").WithCause(err)
	}
	return rows, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
