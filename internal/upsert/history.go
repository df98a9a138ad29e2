package upsert

import (
	"time"

	"gorm.io/gorm"

	"github.com/zipsea/cruisesync/internal/entities"
)

// Recorder appends immutable price snapshots. It only ever reads the values
// about to be superseded, never the incoming ones.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Snapshot captures the sailing's current prices before an update overwrites
// them. It is a no-op when the sailing has no prior price at all: a sailing's
// first-ever price is not an update and produces no history row.
func (r *Recorder) Snapshot(tx *gorm.DB, prior *entities.Sailing) error {
	if prior.InteriorPrice == nil && prior.OceanviewPrice == nil &&
		prior.BalconyPrice == nil && prior.SuitePrice == nil {
		return nil
	}

	snapshot := entities.PriceSnapshot{
		CodeToCruiseID: prior.CodeToCruiseID,
		InteriorPrice:  prior.InteriorPrice,
		OceanviewPrice: prior.OceanviewPrice,
		BalconyPrice:   prior.BalconyPrice,
		SuitePrice:     prior.SuitePrice,
		CheapestPrice:  prior.CheapestPrice,
		Currency:       prior.Currency,
		CapturedAt:     time.Now(),
	}
	return tx.Create(&snapshot).Error
}
