package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// DBConfig 数据库连接配置
type DBConfig struct {
	Type            string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GormStorage 基于 GORM 的持久化实现，支持 sqlite / postgres / mysql
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage 创建并迁移数据库
func NewGormStorage(cfg *DBConfig) (*GormStorage, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite", "":
		// sqlite 需要保证目录存在
		if dir := filepath.Dir(cfg.DSN); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("创建数据目录失败: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层连接失败: %w", err)
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

	if err := db.AutoMigrate(
		&SpreadSampleRecord{},
		&EventRecord{},
		&FillRecord{},
		&AppLogRecord{},
	); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	return &GormStorage{db: db}, nil
}

// AppendSpreadSamples 批量追加价差样本（(symbol, ts) 冲突时忽略）
func (g *GormStorage) AppendSpreadSamples(ctx context.Context, samples []*SpreadSampleRecord) error {
	if len(samples) == 0 {
		return nil
	}
	for _, s := range samples {
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
	}
	// 同一毫秒重复写入直接跳过，保持历史序列唯一
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&samples).Error
}

// LoadSpreadHistory 加载指定交易对最近的价差样本（按时间升序返回）
func (g *GormStorage) LoadSpreadHistory(ctx context.Context, symbol string, limit int) ([]*SpreadSampleRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	var records []*SpreadSampleRecord
	err := g.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("ts DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("加载价差历史失败: %w", err)
	}

	// 反转为升序
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// TrimSpreadHistory 按条数裁剪历史，只保留最近 keep 条
func (g *GormStorage) TrimSpreadHistory(ctx context.Context, symbol string, keep int) error {
	if keep <= 0 {
		return nil
	}

	var cutoff int64
	row := g.db.WithContext(ctx).
		Model(&SpreadSampleRecord{}).
		Where("symbol = ?", symbol).
		Order("ts DESC").
		Offset(keep - 1).
		Limit(1).
		Select("ts").
		Row()
	if err := row.Scan(&cutoff); err != nil {
		// 样本数不足 keep 条，无需裁剪
		return nil
	}

	return g.db.WithContext(ctx).
		Where("symbol = ? AND ts < ?", symbol, cutoff).
		Delete(&SpreadSampleRecord{}).Error
}

// SaveEvents 批量保存事件
func (g *GormStorage) SaveEvents(ctx context.Context, events []*EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Create(&events).Error
}

// GetEvents 查询事件
func (g *GormStorage) GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error) {
	query := g.db.WithContext(ctx).Model(&EventRecord{})

	if filter != nil {
		if filter.Level != "" {
			query = query.Where("level = ?", filter.Level)
		}
		if filter.Source != "" {
			query = query.Where("source = ?", filter.Source)
		}
		if filter.Symbol != "" {
			query = query.Where("symbol = ?", filter.Symbol)
		}
		if filter.StartTime != nil {
			query = query.Where("created_at >= ?", *filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("created_at <= ?", *filter.EndTime)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		} else {
			query = query.Limit(100)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	} else {
		query = query.Limit(100)
	}

	var events []*EventRecord
	err := query.Order("created_at DESC").Find(&events).Error
	return events, err
}

// SaveFills 批量保存成交
func (g *GormStorage) SaveFills(ctx context.Context, fills []*FillRecord) error {
	if len(fills) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Create(&fills).Error
}

// GetFills 查询成交
func (g *GormStorage) GetFills(ctx context.Context, filter *FillFilter) ([]*FillRecord, error) {
	query := g.db.WithContext(ctx).Model(&FillRecord{})

	if filter != nil {
		if filter.Venue != "" {
			query = query.Where("venue = ?", filter.Venue)
		}
		if filter.Symbol != "" {
			query = query.Where("symbol = ?", filter.Symbol)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		} else {
			query = query.Limit(100)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	} else {
		query = query.Limit(100)
	}

	var fills []*FillRecord
	err := query.Order("created_at DESC").Find(&fills).Error
	return fills, err
}

// SaveAppLogs 批量保存应用日志
func (g *GormStorage) SaveAppLogs(ctx context.Context, logs []*AppLogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Create(&logs).Error
}

// Ping 健康检查
func (g *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (g *GormStorage) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
