// Package checkpoint persists crawl progress so an interrupted crawl resumes
// instead of reprocessing completed work.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zipsea/cruisesync/internal/entities"
)

// ErrCheckpointIO marks a failure to persist checkpoint state. It is fatal to
// the crawl run: proceeding without durable progress tracking would corrupt
// the resume guarantee.
var ErrCheckpointIO = errors.New("checkpoint persistence failed")

// Repository is the durable store behind the crawl orchestrator. All
// in-memory crawl state is derived from it on startup, never the other way
// around.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Load returns the live checkpoint, or nil when no crawl was interrupted.
func (r *Repository) Load() (*entities.SyncCheckpoint, error) {
	var cp entities.SyncCheckpoint
	err := r.db.Order("id desc").First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointIO, err)
	}
	return &cp, nil
}

// Save upserts the checkpoint row. Called once per completed batch, not per
// file, which caps rework-on-resume to at most one batch.
func (r *Repository) Save(cp *entities.SyncCheckpoint) error {
	cp.UpdatedAt = time.Now()
	var err error
	if cp.ID == 0 {
		err = r.db.Create(cp).Error
	} else {
		err = r.db.Save(cp).Error
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointIO, err)
	}
	return nil
}

// Clear removes all checkpoint state. Only called after a crawl completes
// with zero unrecovered errors; a failed crawl leaves its checkpoint so the
// next run resumes rather than treating partial failure as success.
func (r *Repository) Clear() error {
	if err := r.db.Where("1 = 1").Delete(&entities.SyncCheckpoint{}).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointIO, err)
	}
	return nil
}
