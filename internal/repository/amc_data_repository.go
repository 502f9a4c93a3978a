package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"quizmark_backend/internal/grading"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/util"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AMCDataRepository 读写识别工具链在会话 data/ 目录中生成的 SQLite 文件。
// 每次调用单独打开连接，工具链运行期间不持有文件句柄。
type AMCDataRepository struct {
	DataDir string
}

func NewAMCDataRepository(dataDir string) *AMCDataRepository {
	return &AMCDataRepository{DataDir: dataDir}
}

func (r *AMCDataRepository) path(name string) string {
	return filepath.Join(r.DataDir, name)
}

// open 打开已存在的数据文件，不存在时返回 ErrDataUnavailable 而不是新建空库
func (r *AMCDataRepository) open(name string) (*gorm.DB, func(), error) {
	p := r.path(name)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", util.ErrDataUnavailable, name)
		}
		return nil, nil, err
	}
	db, err := gorm.Open(sqlite.Open(p), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return db, closer, nil
}

func (r *AMCDataRepository) HasDetections() bool {
	_, err := os.Stat(r.path(util.AnalysisDataFile))
	return err == nil
}

// LoadDetections 读取全部选框的填涂比例
func (r *AMCDataRepository) LoadDetections(ctx context.Context) ([]grading.Detection, error) {
	db, closeDB, err := r.open(util.AnalysisDataFile)
	if err != nil {
		return nil, err
	}
	defer closeDB()

	var rows []model.BoxRow
	if err := db.WithContext(ctx).Order("student, page, checkbox").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]grading.Detection, len(rows))
	for i, row := range rows {
		out[i] = grading.Detection{Student: row.Student, Page: row.Page, Checkbox: row.Checkbox, Ratio: row.Ratio}
	}
	return out, nil
}

func (r *AMCDataRepository) ListAssociations(ctx context.Context) ([]grading.Association, error) {
	db, closeDB, err := r.open(util.AssociationFile)
	if err != nil {
		return nil, err
	}
	defer closeDB()

	var rows []model.AssociationRow
	if err := db.WithContext(ctx).Order("student ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]grading.Association, len(rows))
	for i, row := range rows {
		out[i] = grading.Association{Student: row.Student, Copy: row.Copy, Manual: row.Manual, Auto: row.Auto}
	}
	return out, nil
}

// SetManualIdentities 在一个事务中按顺序写入人工身份，同一学生以最后一条为准；
// 任一学生不存在时整批回滚
func (r *AMCDataRepository) SetManualIdentities(ctx context.Context, corrections []grading.AssociationCorrection) error {
	db, closeDB, err := r.open(util.AssociationFile)
	if err != nil {
		return err
	}
	defer closeDB()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range corrections {
			res := tx.Model(&model.AssociationRow{}).
				Where("student = ?", *c.Student).
				Update("manual", c.Manual)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: unknown student %d", grading.ErrInvalidAssociation, *c.Student)
			}
		}
		return nil
	})
}

func (r *AMCDataRepository) ManualIdentities(ctx context.Context, students []int) (map[int]*string, error) {
	db, closeDB, err := r.open(util.AssociationFile)
	if err != nil {
		return nil, err
	}
	defer closeDB()

	var rows []model.AssociationRow
	if err := db.WithContext(ctx).Where("student IN ?", students).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int]*string, len(rows))
	for _, row := range rows {
		out[row.Student] = row.Manual
	}
	return out, nil
}

// CheckWritable 在写入人工身份之前确认 capture.sqlite 可读写，文件损坏时整批拒绝
func (r *AMCDataRepository) CheckWritable(ctx context.Context) error {
	db, closeDB, err := r.open(util.CaptureFile)
	if err != nil {
		if errors.Is(err, util.ErrDataUnavailable) {
			return nil
		}
		return err
	}
	defer closeDB()

	var n int64
	return db.WithContext(ctx).Model(&model.CapturePage{}).Count(&n).Error
}

// InvalidateStudents 将学生各页的批注时间戳重置，下次导出时重新生成批注副本。
// capture.sqlite 尚未生成时没有缓存需要失效。
func (r *AMCDataRepository) InvalidateStudents(ctx context.Context, students []int) error {
	if len(students) == 0 {
		return nil
	}
	db, closeDB, err := r.open(util.CaptureFile)
	if err != nil {
		if errors.Is(err, util.ErrDataUnavailable) {
			return nil
		}
		return err
	}
	defer closeDB()

	return db.WithContext(ctx).Model(&model.CapturePage{}).
		Where("student IN ?", students).
		Updates(map[string]interface{}{
			"timestamp_annotate": model.StaleTimestamp,
			"timestamp_manual":   model.StaleTimestamp,
		}).Error
}

func (r *AMCDataRepository) CapturePages(ctx context.Context, student int) ([]model.CapturePage, error) {
	db, closeDB, err := r.open(util.CaptureFile)
	if err != nil {
		return nil, err
	}
	defer closeDB()

	var pages []model.CapturePage
	err = db.WithContext(ctx).Where("student = ?", student).Order("page ASC").Find(&pages).Error
	return pages, err
}
