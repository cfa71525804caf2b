package rwlock

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/xerrors"
)

const (
	schemaVersion    = 1
	schemaVersionKey = "schema_version"
)

// metaRow 存放 schema 版本等元信息
type metaRow struct {
	Name  string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

func (metaRow) TableName() string { return "rw_meta" }

// holderRow 一个持有中的读者或写者
type holderRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Mode       string `gorm:"index;not null"`
	PID        int    `gorm:"column:pid;not null"`
	Host       string `gorm:"index;not null"`
	Holder     string
	AcquiredAt time.Time
}

func (holderRow) TableName() string { return "rw_holders" }

// store 持有者表的读写，每个方法是一个独立的短事务
type store struct {
	db     *gorm.DB
	pid    int
	host   string
	alive  func(ctx context.Context, pid int) bool
	logger clog.Logger
}

// migrate 建表并检查 schema 版本，磁盘上的版本更新时拒绝使用
func (s *store) migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&metaRow{}, &holderRow{}); err != nil {
			return err
		}
		var meta metaRow
		err := tx.Where("name = ?", schemaVersionKey).Take(&meta).Error
		if xerrors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&metaRow{Name: schemaVersionKey, Value: strconv.Itoa(schemaVersion)}).Error
		}
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(meta.Value)
		if err != nil || v > schemaVersion {
			return xerrors.Wrapf(ErrSchemaVersion, "found %q, supported %d", meta.Value, schemaVersion)
		}
		return nil
	})
}

// tryAcquire 在一个事务中清理死亡持有者、检查冲突并登记
// 有冲突时返回 ok=false；数据库繁忙时返回 sqlite 错误，由调用方判断是否重试
func (s *store) tryAcquire(ctx context.Context, mode Mode, holder string) (id uint, ok bool, err error) {
	var row holderRow
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.reap(ctx, tx); err != nil {
			return err
		}

		q := tx.Model(&holderRow{})
		if mode == ModeRead {
			q = q.Where("mode = ?", string(ModeWrite))
		}
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		row = holderRow{
			Mode:       string(mode),
			PID:        s.pid,
			Host:       s.host,
			Holder:     holder,
			AcquiredAt: time.Now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return row.ID, ok, nil
}

// reap 删除本机上已经退出的进程留下的行
func (s *store) reap(ctx context.Context, tx *gorm.DB) error {
	var rows []holderRow
	if err := tx.Where("host = ? AND pid <> ?", s.host, s.pid).Find(&rows).Error; err != nil {
		return err
	}
	var dead []uint
	for _, r := range rows {
		if !s.alive(ctx, r.PID) {
			dead = append(dead, r.ID)
			s.logger.Warn("reaping lock row of dead process",
				clog.Int("pid", r.PID),
				clog.String("mode", r.Mode),
				clog.Time("acquired_at", r.AcquiredAt))
		}
	}
	if len(dead) == 0 {
		return nil
	}
	return tx.Delete(&holderRow{}, dead).Error
}

// remove 删除自己登记的行
func (s *store) remove(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&holderRow{}, id).Error
}

// counts 返回当前读者与写者数量
func (s *store) counts(ctx context.Context) (readers, writers int64, err error) {
	type result struct {
		Mode string
		N    int64
	}
	var rs []result
	err = s.db.WithContext(ctx).Model(&holderRow{}).
		Select("mode, count(*) as n").Group("mode").Scan(&rs).Error
	for _, r := range rs {
		switch Mode(r.Mode) {
		case ModeRead:
			readers = r.N
		case ModeWrite:
			writers = r.N
		}
	}
	return readers, writers, err
}
